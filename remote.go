// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
)

// RemoteWord is a [Word] that executes on a remote runtime. Each execution
// sends the whole local stack in one ExecuteWord call and replaces the local
// stack with the result.
type RemoteWord struct {
	info    WordInfo
	module  string
	runtime string
	client  Service
}

// NewRemoteWord constructs a word that executes the word described by info,
// from the named module, on the given runtime through client.
func NewRemoteWord(client Service, runtime, module string, info WordInfo) *RemoteWord {
	return &RemoteWord{info: info, module: module, runtime: runtime, client: client}
}

// Name implements a method of [Word].
func (w *RemoteWord) Name() string { return w.info.Name }

// Info implements a method of [Word].
func (w *RemoteWord) Info() RuntimeInfo {
	return RuntimeInfo{Runtime: w.runtime, Remote: true, AvailableIn: mapset.New(w.runtime)}
}

// Module reports the name of the module w belongs to.
func (w *RemoteWord) Module() string { return w.module }

// Client returns the service w executes through.
func (w *RemoteWord) Client() Service { return w.client }

// StackEffect reports the stack effect declared by the remote runtime.
func (w *RemoteWord) StackEffect() string { return w.info.StackEffect }

// Description reports the description declared by the remote runtime.
func (w *RemoteWord) Description() string { return w.info.Description }

// Execute implements a method of [Word]. If the call fails, the stack of in
// is not modified and the error is a [*WordError].
func (w *RemoteWord) Execute(ctx context.Context, in Interp) error {
	snap := in.Stack()
	out, err := w.client.ExecuteWord(ctx, w.info.Name, snap)
	if err != nil {
		return &WordError{Runtime: w.runtime, Module: w.module, Word: w.info.Name, Err: err}
	}
	in.SetStack(out)
	return nil
}

func (w *RemoteWord) String() string {
	return fmt.Sprintf("RemoteWord(%s.%s@%s)", w.module, w.info.Name, w.runtime)
}

// RemoteModule is a module whose words live on a remote runtime. Its words
// are discovered by [RemoteModule.Initialize]; the module is not usable until
// that has succeeded.
type RemoteModule struct {
	name    string
	runtime string
	client  Service

	μ     sync.Mutex
	info  *ModuleInfo
	words []*RemoteWord
	index map[string]*RemoteWord
}

// NewRemoteModule constructs an uninitialized module with the given name on
// the given runtime.
func NewRemoteModule(name, runtime string, client Service) *RemoteModule {
	return &RemoteModule{name: name, runtime: runtime, client: client}
}

// Name reports the name of the module.
func (m *RemoteModule) Name() string { return m.name }

// Runtime reports the name of the runtime that owns the module.
func (m *RemoteModule) Runtime() string { return m.runtime }

// Initialize discovers the words of m from its runtime. Once it succeeds,
// later calls do nothing. If discovery fails m remains uninitialized.
func (m *RemoteModule) Initialize(ctx context.Context) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.info != nil {
		return nil
	}
	info, err := m.client.GetModuleInfo(ctx, m.name)
	if err != nil {
		return fmt.Errorf("initialize module %q: %w", m.name, err)
	} else if info == nil {
		return fmt.Errorf("initialize module %q: no module info reported", m.name)
	}
	words := make([]*RemoteWord, len(info.Words))
	index := make(map[string]*RemoteWord, len(info.Words))
	for i, wi := range info.Words {
		words[i] = NewRemoteWord(m.client, m.runtime, m.name, wi)
		index[wi.Name] = words[i]
	}
	m.info, m.words, m.index = info, words, index
	return nil
}

// Initialized reports whether m has been initialized.
func (m *RemoteModule) Initialized() bool {
	m.μ.Lock()
	defer m.μ.Unlock()
	return m.info != nil
}

// WordCount reports the number of words discovered for m, or 0 if m is not
// initialized.
func (m *RemoteModule) WordCount() int {
	m.μ.Lock()
	defer m.μ.Unlock()
	return len(m.words)
}

// Info returns the discovery metadata for m.
func (m *RemoteModule) Info() (*ModuleInfo, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.info == nil {
		return nil, m.notReady("info")
	}
	return m.info, nil
}

// Words returns the words of m in the order the runtime reported them.
func (m *RemoteModule) Words() ([]Word, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.info == nil {
		return nil, m.notReady("words")
	}
	out := make([]Word, len(m.words))
	for i, w := range m.words {
		out[i] = w
	}
	return out, nil
}

// Word returns the word of m with the given name.
func (m *RemoteModule) Word(name string) (Word, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.info == nil {
		return nil, m.notReady("word")
	}
	w, ok := m.index[name]
	if !ok {
		return nil, &UsageError{Op: "word", Err: fmt.Errorf("%w %q in module %q", ErrUnknownWord, name, m.name)}
	}
	return w, nil
}

func (m *RemoteModule) notReady(op string) error {
	return &UsageError{Op: op, Err: fmt.Errorf("%w: %q", ErrNotInitialized, m.name)}
}
