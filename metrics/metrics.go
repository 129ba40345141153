// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package metrics wraps github.com/rcrowley/go-metrics the way the teacher
// pack does (storage/database/leveldb_database.go's compTimeMeter and
// node/sc/bridge_tx_pool.go's refusedTxCounter): a process-wide registry,
// per-component meters/counters/gauges created once via
// NewRegisteredCounter/NewRegisteredMeter, and a global Enabled switch that
// callers may check to skip collection when metrics are turned off.
package metrics

import gometrics "github.com/rcrowley/go-metrics"

// Enabled mirrors the teacher's metrics.Enabled. This package never reads
// it: registered meters/counters are always live, and only a caller that
// checks Enabled before its hot-path Mark/Inc skips collection when it is
// false.
var Enabled = true

var registry = gometrics.NewRegistry()

// Counter is a monotonically adjustable integer metric.
type Counter interface {
	Inc(int64)
	Dec(int64)
	Count() int64
}

// Meter tracks a rate (events per second) in addition to a raw count.
type Meter interface {
	Mark(int64)
	Count() int64
}

// Gauge holds the latest instantaneous value of a metric.
type Gauge interface {
	Update(int64)
	Value() int64
}

// NewRegisteredCounter creates and registers a new Counter under name,
// exactly like gometrics.NewRegisteredCounter used throughout the teacher.
func NewRegisteredCounter(name string) Counter {
	return gometrics.NewRegisteredCounter(name, registry)
}

// NewRegisteredMeter creates and registers a new Meter under name.
func NewRegisteredMeter(name string) Meter {
	return gometrics.NewRegisteredMeter(name, registry)
}

// NewRegisteredGauge creates and registers a new Gauge under name.
func NewRegisteredGauge(name string) Gauge {
	return gometrics.NewRegisteredGauge(name, registry)
}

// Registry exposes the underlying go-metrics registry, e.g. for a future
// dashboard exporter; this repository never reads it back (dashboards are
// a spec Non-goal), it only ever writes metrics into it.
func Registry() gometrics.Registry { return registry }
