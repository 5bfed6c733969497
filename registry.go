// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xrt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("xrt.registry")

// A Dialer connects a client to the runtime at address. The address does
// not include the scheme prefix.
type Dialer func(ctx context.Context, address string, cfg Config) (Client, error)

var transports struct {
	sync.Mutex
	m map[string]Dialer
}

// RegisterTransport makes a dialer available for addresses of the form
// "scheme://...". It panics if scheme is already registered or d is nil.
// Transport packages call it from an init function.
func RegisterTransport(scheme string, d Dialer) {
	transports.Lock()
	defer transports.Unlock()
	if d == nil {
		panic("xrt: nil dialer for scheme " + scheme)
	}
	if _, ok := transports.m[scheme]; ok {
		panic("xrt: duplicate transport for scheme " + scheme)
	}
	if transports.m == nil {
		transports.m = make(map[string]Dialer)
	}
	transports.m[scheme] = d
}

// Transports reports the registered address schemes in order.
func Transports() []string {
	transports.Lock()
	defer transports.Unlock()
	return slices.Sorted(maps.Keys(transports.m))
}

// SplitScheme splits address into a scheme and the remainder. An address
// without a "scheme://" prefix has scheme "tcp".
func SplitScheme(address string) (scheme, rest string) {
	if i := strings.Index(address, "://"); i > 0 {
		return address[:i], address[i+3:]
	}
	return "tcp", address
}

// Dial connects a client to address using the transport registered for its
// scheme.
func Dial(ctx context.Context, address string, cfg Config) (Client, error) {
	scheme, rest := SplitScheme(address)
	transports.Lock()
	d, ok := transports.m[scheme]
	transports.Unlock()
	if !ok {
		return nil, &UsageError{Op: "dial", Err: fmt.Errorf("%w: scheme %q", ErrNoTransport, scheme)}
	}
	return d(ctx, rest, cfg)
}

// A Registry maps runtime names to connected clients. Each name has at most
// one live client. A Registry is safe for concurrent use.
type Registry struct {
	dial Dialer
	cfg  Config

	μ       sync.Mutex
	clients map[string]Client
}

// An Option configures a [Registry].
type Option func(*Registry)

// WithDialer makes the registry connect through d instead of the registered
// transports. The full address, including any scheme, is passed to d.
func WithDialer(d Dialer) Option { return func(r *Registry) { r.dial = d } }

// WithConfig sets the configuration used by Connect when none is given.
func WithConfig(cfg Config) Option { return func(r *Registry) { r.cfg = cfg } }

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{dial: Dial, clients: make(map[string]Client)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func checkName(op, name string) error {
	if name == "" || name == LocalRuntime {
		return &UsageError{Op: op, Err: fmt.Errorf("%w: %q", ErrReservedName, name)}
	}
	return nil
}

func duplicate(op, name string) error {
	return &UsageError{Op: op, Err: fmt.Errorf("%w: %q", ErrDuplicateRuntime, name)}
}

// Connect dials address and registers the resulting client under name. If
// cfg == nil the registry default is used. Connect reports a [*UsageError]
// wrapping [ErrDuplicateRuntime] if name already has a live client; the
// existing client is not affected.
func (r *Registry) Connect(ctx context.Context, name, address string, cfg *Config) (Client, error) {
	if err := checkName("connect", name); err != nil {
		return nil, err
	} else if r.Has(name) {
		return nil, duplicate("connect", name)
	}

	c := r.cfg
	if cfg != nil {
		c = *cfg
	}
	c.Runtime = name

	// Dial without holding the lock, so a slow connection does not stall
	// other users of the registry.
	cli, err := r.dial(ctx, address, c)
	if err != nil {
		var te *TransportError
		var ue *UsageError
		if errors.As(err, &te) || errors.As(err, &ue) {
			return nil, err
		}
		return nil, &TransportError{Runtime: name, Op: "connect", Err: err}
	}

	r.μ.Lock()
	if _, ok := r.clients[name]; ok {
		r.μ.Unlock()
		cli.Close() // lost a race with another connect
		return nil, duplicate("connect", name)
	}
	r.clients[name] = cli
	r.μ.Unlock()

	log.Info("connected runtime", "runtime", name, "address", address)
	return cli, nil
}

// Register adds an existing client under name. It reports a [*UsageError] if
// name already has a live client.
func (r *Registry) Register(name string, cli Client) error {
	if err := checkName("register", name); err != nil {
		return err
	} else if cli == nil {
		return &UsageError{Op: "register", Err: errors.New("nil client")}
	}
	r.μ.Lock()
	defer r.μ.Unlock()
	if _, ok := r.clients[name]; ok {
		return duplicate("register", name)
	}
	r.clients[name] = cli
	return nil
}

// Get returns the client registered under name, and reports whether it was
// present.
func (r *Registry) Get(name string) (Client, bool) {
	r.μ.Lock()
	defer r.μ.Unlock()
	cli, ok := r.clients[name]
	return cli, ok
}

// Client returns the client registered under name, or a [*UsageError]
// wrapping [ErrUnknownRuntime].
func (r *Registry) Client(name string) (Client, error) {
	cli, ok := r.Get(name)
	if !ok {
		return nil, &UsageError{Op: "client", Err: fmt.Errorf("%w: %q", ErrUnknownRuntime, name)}
	}
	return cli, nil
}

// Has reports whether name has a registered client.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List reports the registered runtime names in order.
func (r *Registry) List() []string {
	r.μ.Lock()
	defer r.μ.Unlock()
	return slices.Sorted(maps.Keys(r.clients))
}

// Disconnect closes and removes the client registered under name. If name
// has no client, Disconnect does nothing and reports nil.
func (r *Registry) Disconnect(name string) error {
	r.μ.Lock()
	cli, ok := r.clients[name]
	delete(r.clients, name)
	r.μ.Unlock()

	if !ok {
		return nil
	}
	log.Info("disconnected runtime", "runtime", name)
	return cli.Close()
}

// Reset closes and removes every registered client. It reports the errors
// from closing, if any.
func (r *Registry) Reset() error {
	r.μ.Lock()
	old := r.clients
	r.clients = make(map[string]Client)
	r.μ.Unlock()

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(old)) {
		if err := old[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// LoadModule initializes a remote module with the given name on the named
// runtime.
func (r *Registry) LoadModule(ctx context.Context, runtime, module string) (*RemoteModule, error) {
	cli, err := r.Client(runtime)
	if err != nil {
		return nil, err
	}
	m := NewRemoteModule(module, runtime, cli)
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

var defaultRegistry struct {
	sync.Mutex
	r *Registry
}

// Default returns the process registry, constructing it if necessary.
func Default() *Registry {
	defaultRegistry.Lock()
	defer defaultRegistry.Unlock()
	if defaultRegistry.r == nil {
		defaultRegistry.r = NewRegistry()
	}
	return defaultRegistry.r
}

// ResetDefault resets the process registry and discards it, so that the next
// call to [Default] returns a new registry.
func ResetDefault() error {
	defaultRegistry.Lock()
	r := defaultRegistry.r
	defaultRegistry.r = nil
	defaultRegistry.Unlock()
	if r == nil {
		return nil
	}
	return r.Reset()
}

type registryKey struct{}

// WithRegistry returns a context carrying r.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// ContextRegistry returns the registry carried by ctx, or [Default] if ctx
// has none.
func ContextRegistry(ctx context.Context) *Registry {
	if r, ok := ctx.Value(registryKey{}).(*Registry); ok && r != nil {
		return r
	}
	return Default()
}
