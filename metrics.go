// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import "expvar"

// runnerMetrics record batch execution counters.
type runnerMetrics struct {
	batchesLocal  expvar.Int
	batchesRemote expvar.Int
	remoteCalls   expvar.Int // number of remote calls issued by runners
	wordsBatched  expvar.Int // number of words carried by sequence calls

	emap *expvar.Map
}

var metrics = newRunnerMetrics()

func newRunnerMetrics() *runnerMetrics {
	rm := &runnerMetrics{emap: new(expvar.Map)}
	rm.emap.Set("batches_local", &rm.batchesLocal)
	rm.emap.Set("batches_remote", &rm.batchesRemote)
	rm.emap.Set("remote_calls", &rm.remoteCalls)
	rm.emap.Set("words_batched", &rm.wordsBatched)
	return rm
}

// Metrics returns the runner metrics of the process.
func Metrics() *expvar.Map { return metrics.emap }

// ClientMetrics record the activity of a transport client.
//
//   - calls_out: counter of calls issued
//   - calls_out_failed: counter of calls reporting an error
//   - calls_pending: gauge of calls awaiting a reply
//   - replies_dropped: counter of replies that matched no pending call
type ClientMetrics struct {
	callsOut       expvar.Int
	callsOutFailed expvar.Int
	callsPending   expvar.Int
	repliesDropped expvar.Int

	emap *expvar.Map
}

// NewClientMetrics constructs an empty set of client metrics.
func NewClientMetrics() *ClientMetrics {
	cm := &ClientMetrics{emap: new(expvar.Map)}
	cm.emap.Set("calls_out", &cm.callsOut)
	cm.emap.Set("calls_out_failed", &cm.callsOutFailed)
	cm.emap.Set("calls_pending", &cm.callsPending)
	cm.emap.Set("replies_dropped", &cm.repliesDropped)
	return cm
}

// Map returns the metrics as an expvar map.
func (m *ClientMetrics) Map() *expvar.Map { return m.emap }

// Start records the start of a call, and returns a function that records its
// completion with the given error.
func (m *ClientMetrics) Start() func(error) {
	m.callsOut.Add(1)
	m.callsPending.Add(1)
	return func(err error) {
		m.callsPending.Add(-1)
		if err != nil {
			m.callsOutFailed.Add(1)
		}
	}
}

// Dropped records a reply that matched no pending call.
func (m *ClientMetrics) Dropped() { m.repliesDropped.Add(1) }
