// authcore - operator CLI for the MSIS admin authentication core.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeranaias/msis-authcore/internal/config"
	"github.com/jeranaias/msis-authcore/internal/security"
	"github.com/jeranaias/msis-authcore/internal/storage"
)

const usage = `authcore - MSIS admin authentication core

Usage:
  authcore [-config path] <command>

Commands:
  init      Create the administrative identity if it does not exist
  status    Show lockout and enrollment status
  audit     Print the security audit log
  unlock    Clear the attempt tracker (administrative reset)
`

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.msis/authcore.toml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "authcore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, command string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	audit := security.NewAuditLog(store)
	creds := security.NewCredentialStore(store)
	tracker, err := security.NewAttemptTracker(store, audit,
		security.WithMaxAttempts(cfg.Lockout.MaxAttempts),
		security.WithLockoutDuration(time.Duration(cfg.Lockout.LockoutMinutes)*time.Minute),
	)
	if err != nil {
		return err
	}

	switch command {
	case "init":
		if err := creds.Initialize(); err != nil {
			return err
		}
		fmt.Println("identity initialized")
		return nil

	case "status":
		return printStatus(creds, tracker)

	case "audit":
		return printAudit(audit)

	case "unlock":
		tracker.Unlock()
		fmt.Println("attempt tracker cleared")
		return nil

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// openStore builds the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Storage.Path)
	default:
		return storage.NewFileStore(cfg.Storage.Path)
	}
}

func printStatus(creds *security.CredentialStore, tracker *security.AttemptTracker) error {
	status := tracker.Status()
	if status.Locked {
		fmt.Printf("lockout:    LOCKED (%ds remaining)\n", status.RemainingSeconds)
	} else {
		fmt.Printf("lockout:    unlocked (%d consecutive failures)\n", tracker.FailureCount())
	}

	if _, enrolled := creds.EnrolledSecret(); enrolled {
		fmt.Println("mfa:        enrolled")
	} else {
		fmt.Println("mfa:        enrollment pending")
	}
	return nil
}

func printAudit(audit *security.AuditLog) error {
	entries := audit.Entries()
	if len(entries) == 0 {
		fmt.Println("audit log empty")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-8s  %-13s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Severity,
			e.Action,
			e.Details)
	}
	return nil
}
