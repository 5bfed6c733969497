// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package manifest handles runtime manifest files.
//
// A manifest names the remote runtimes a program uses, where to reach each,
// and which of its modules to load:
//
//	[runtimes.python]
//	address = "tcp://localhost:50051"
//	modules = ["pandas", "stats"]
//	timeout = "10s"
//
//	[runtimes.ruby]
//	address = "kafka://broker:9092/forthic.ruby"
//	modules = ["rails"]
package manifest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/forthix/xrt"
)

// FileName is the name of a manifest file searched for by FindAndLoad.
const FileName = "forthic-runtimes.toml"

// EnvVar is the environment variable that may name a manifest file.
const EnvVar = "FORTHIC_RUNTIMES"

// Manifest is the content of a runtime manifest.
type Manifest struct {
	Runtimes map[string]Runtime `toml:"runtimes"`

	// Path is the file the manifest was loaded from, if any.
	Path string `toml:"-"`
}

// Runtime is the manifest entry for one runtime.
type Runtime struct {
	Address string   `toml:"address"`
	Modules []string `toml:"modules"`
	Timeout string   `toml:"timeout"`
}

// An Entry is one resolved runtime of a manifest.
type Entry struct {
	Runtime string
	Address string
	Modules []string
	Timeout time.Duration // zero means the default
}

// Config returns the client configuration of e.
func (e Entry) Config() xrt.Config { return xrt.Config{Runtime: e.Runtime, Timeout: e.Timeout} }

// Parse parses the text of a manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if keys := md.Undecoded(); len(keys) != 0 {
		return nil, fmt.Errorf("unknown manifest keys: %v", keys)
	}
	if _, err := m.Entries(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// FindAndLoad walks up from startDir to find a manifest file, then loads and
// returns it. It returns nil, nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Lookup loads the manifest named by the environment variable, if set, or
// otherwise searches upward from startDir.
func Lookup(startDir string) (*Manifest, error) {
	if path := os.Getenv(EnvVar); path != "" {
		return Load(path)
	}
	return FindAndLoad(startDir)
}

// Entries returns the runtimes of m in name order.
func (m *Manifest) Entries() ([]Entry, error) {
	var out []Entry
	for name, rt := range m.Runtimes {
		if name == "" || name == xrt.LocalRuntime {
			return nil, fmt.Errorf("runtime %q: %w", name, xrt.ErrReservedName)
		}
		if rt.Address == "" {
			return nil, fmt.Errorf("runtime %q: missing address", name)
		}
		e := Entry{Runtime: name, Address: rt.Address, Modules: slices.Clone(rt.Modules)}
		if rt.Timeout != "" {
			d, err := time.ParseDuration(rt.Timeout)
			if err != nil {
				return nil, fmt.Errorf("runtime %q: invalid timeout: %w", name, err)
			}
			e.Timeout = d
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Runtime, b.Runtime) })
	return out, nil
}

// Apply connects reg to every runtime of m and loads the listed modules. It
// returns the modules loaded. A failure for one runtime does not prevent the
// others from loading; the errors are combined.
func (m *Manifest) Apply(ctx context.Context, reg *xrt.Registry) ([]*xrt.RemoteModule, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}
	var mods []*xrt.RemoteModule
	var errs []error
	for _, e := range entries {
		cfg := e.Config()
		if _, err := reg.Connect(ctx, e.Runtime, e.Address, &cfg); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, name := range e.Modules {
			mod, err := reg.LoadModule(ctx, e.Runtime, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("load %s/%s: %w", e.Runtime, name, err))
				continue
			}
			mods = append(mods, mod)
		}
	}
	return mods, errors.Join(errs...)
}
