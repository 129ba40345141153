// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package log is a small contextual logger over the standard library's
// log/slog, grounded on github.com/ethereum/go-ethereum/log (leveled
// handlers over slog) and on klaytn's log.NewModuleLogger(log.<Module>)
// per-module convention (see common/cache.go in the teacher pack).
package log

import (
	"context"
	"log/slog"
	"os"
)

// Module names every package obtains a logger for, mirroring klaytn's
// log.Common / log.BlockChain constants.
type Module string

const (
	Storage     Module = "storage"
	Mempool     Module = "mempool"
	CentralSync Module = "centralsync"
	Propeller   Module = "propeller"
	Executor    Module = "executor"
	Common      Module = "common"
)

var root = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetDefault swaps the process-wide base handler, e.g. to raise verbosity
// or switch to a JSON handler in production.
func SetDefault(l *slog.Logger) { root = l }

// Logger is the contextual logger handed to every subsystem. Calls take a
// message followed by alternating key/value pairs, exactly like the
// teacher's logger.Info("msg", "key", val) idiom.
type Logger struct {
	inner *slog.Logger
}

// NewModuleLogger returns a Logger tagged with the owning module, mirroring
// log.NewModuleLogger(log.Common) in the teacher pack.
func NewModuleLogger(m Module, kv ...any) Logger {
	args := append([]any{"module", string(m)}, kv...)
	return Logger{inner: root.With(args...)}
}

// With attaches additional static key/value context, e.g. a database path
// or a channel name.
func (l Logger) With(kv ...any) Logger {
	return Logger{inner: l.inner.With(kv...)}
}

func (l Logger) Trace(msg string, kv ...any) { l.inner.Log(context.Background(), slog.LevelDebug-4, msg, kv...) }
func (l Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }
