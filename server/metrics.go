// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package server

import "expvar"

var metrics = newServerMetrics()

type serverMetrics struct {
	calls  *expvar.Map // per operation
	failed *expvar.Map // per operation

	emap *expvar.Map
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{calls: new(expvar.Map), failed: new(expvar.Map), emap: new(expvar.Map)}
	m.emap.Set("calls_in", m.calls)
	m.emap.Set("calls_in_failed", m.failed)
	return m
}

// Metrics returns a map of server metrics. The caller is responsible for
// exporting these metrics.
func Metrics() *expvar.Map { return metrics.emap }
