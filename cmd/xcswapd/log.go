// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
	"github.com/xcswap/xcswap/swap"
	"github.com/xcswap/xcswap/swap/coordinator"
	"github.com/xcswap/xcswap/swap/db/bolt"
	"github.com/xcswap/xcswap/swap/escrow"
	"github.com/xcswap/xcswap/swap/factory"
	"github.com/xcswap/xcswap/swap/ledger"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

// Write writes the data in p to standard out and the log rotator.
func (logWriter) Write(p []byte) (n int, err error) {
	if logRotator == nil {
		return os.Stdout.Write(p)
	}
	os.Stdout.Write(p)
	return logRotator.Write(p) // not safe concurrent writes, so only one logWriter{} allowed!
}

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, define it in the subsystemLoggers map.
//
// Loggers should not be used before the log rotator has been initialized with
// a log file. This must be performed early during application startup by
// calling initLogRotator.
var (
	// logRotator is one of the logging outputs. Use initLogRotator to set it.
	// It should be closed on application shutdown.
	logRotator *rotator.Rotator

	// package main's Logger.
	log = swap.Disabled

	// subsystemLoggers maps each subsystem identifier to its associated
	// logger. The loggers are disabled until parseAndSetDebugLevels is
	// called.
	subsystemLoggers = map[string]swap.Logger{
		"MAIN": swap.Disabled,
		"ESCR": swap.Disabled,
		"FCTY": swap.Disabled,
		"LEDG": swap.Disabled,
		"CORD": swap.Disabled,
		"DB":   swap.Disabled,
	}
)

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory. It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string, maxRolls int) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logRotator, err = rotator.New(logFile, 32*1024, false, maxRolls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
}

// setLogLevel builds a subsystem logger at the given level and routes it to
// the package it serves.
func setLogLevel(lm *swap.LoggerMaker, subsysID string, lvl slog.Level) {
	logger := lm.NewLogger(subsysID, lvl)
	subsystemLoggers[subsysID] = logger
	switch subsysID {
	case "MAIN":
		log = logger
	case "ESCR":
		escrow.UseLogger(logger)
	case "FCTY":
		factory.UseLogger(logger)
	case "LEDG":
		ledger.UseLogger(logger)
	case "CORD":
		coordinator.UseLogger(logger)
	case "DB":
		bolt.UseLogger(logger)
	}
}

// setLogLevels sets the log level for all subsystem loggers.
func setLogLevels(lm *swap.LoggerMaker, lvl slog.Level) {
	for subsysID := range subsystemLoggers {
		setLogLevel(lm, subsysID, lvl)
	}
}
