// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import "fmt"

// A Batch is a contiguous run of words that execute in the same place:
// either all locally, or all on one remote runtime.
type Batch struct {
	Runtime string // the remote runtime, or LocalRuntime
	Words   []Word
	Start   int  // index of the first word in the planned sequence
	End     int  // index of the last word, inclusive
	Remote  bool // whether the batch executes remotely
}

// Names returns the names of the words in b, in order.
func (b Batch) Names() []string {
	out := make([]string, len(b.Words))
	for i, w := range b.Words {
		out[i] = w.Name()
	}
	return out
}

func (b Batch) String() string {
	return fmt.Sprintf("Batch(%s, %d..%d, %v)", b.Runtime, b.Start, b.End, b.Names())
}

// accepts reports whether w may extend b.
func (b *Batch) accepts(w Word) bool {
	info := w.Info()
	if !b.Remote {
		return !info.Remote
	}
	return info.Accepts(b.Runtime)
}

// Plan partitions words into batches, in order. Each batch is as long as the
// words permit: a local batch extends over any non-remote word, and a remote
// batch extends over words of its runtime and over standard words available
// in its runtime. Words are never reordered. Plan returns nil for empty input.
func Plan(words []Word) []Batch {
	var out []Batch
	for i, w := range words {
		if n := len(out); n > 0 && out[n-1].accepts(w) {
			out[n-1].Words = append(out[n-1].Words, w)
			out[n-1].End = i
			continue
		}
		info := w.Info()
		b := Batch{Runtime: LocalRuntime, Words: []Word{w}, Start: i, End: i, Remote: info.Remote}
		if info.Remote {
			b.Runtime = info.Runtime
		}
		out = append(out, b)
	}
	return out
}

// PlanStats summarizes a plan. It is informational only.
type PlanStats struct {
	Batches    int            // total number of batches
	Remote     int            // number of remote batches
	Local      int            // number of local batches
	MeanSize   float64        // mean number of words per batch
	PerRuntime map[string]int // batches per runtime, including LocalRuntime
}

// Stats reports statistics about a plan.
func Stats(plan []Batch) PlanStats {
	st := PlanStats{Batches: len(plan), PerRuntime: make(map[string]int)}
	var words int
	for _, b := range plan {
		if b.Remote {
			st.Remote++
		} else {
			st.Local++
		}
		st.PerRuntime[b.Runtime]++
		words += len(b.Words)
	}
	if len(plan) != 0 {
		st.MeanSize = float64(words) / float64(len(plan))
	}
	return st
}
