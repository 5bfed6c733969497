// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program xrt is a command-line utility for serving and calling Forthic
// runtimes across process boundaries.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/forthix/xrt"
	"github.com/forthix/xrt/dispatch"
	"github.com/forthix/xrt/manifest"
	"github.com/forthix/xrt/peer"
	"github.com/forthix/xrt/server"
	"github.com/forthix/xrt/transport/grpcx"
	"github.com/forthix/xrt/transport/kafka"
	"github.com/forthix/xrt/transport/rpc"
	"github.com/forthix/xrt/value"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var flags struct {
	Verbose  int           `flag:"v,Log verbosity (0=notice, 1=info, 2=debug)"`
	LogFile  string        `flag:"log-file,Write logs to this file instead of stderr"`
	Timeout  time.Duration `flag:"timeout,Per-call timeout (0 for the default, negative for none)"`
	Manifest string        `flag:"manifest,Runtime manifest file (default: $FORTHIC_RUNTIMES or search)"`
}

var serveFlags struct {
	Runtime string `flag:"runtime,default=go,Name of the served runtime"`
	Listen  string `flag:"listen,Serve peer connections at this address (host:port or socket path)"`
	GRPC    string `flag:"grpc,Serve gRPC at this host:port"`
	Kafka   string `flag:"kafka,Serve the request topic named by brokers/topic"`
	Group   string `flag:"group,Consumer group for --kafka (default: xrt-<topic>)"`
	Workers int    `flag:"workers,default=16,Maximum concurrent Kafka requests"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Usage: `<command> [arguments]
help [<command>]`,
		Help: `Utilities for serving and calling Forthic runtimes.

Addresses have the form scheme://rest, where the scheme selects a transport:

  tcp://host:port     peer connection over TCP (the default without a scheme)
  unix://path         peer connection over a Unix socket
  chirp://addr        peer connection, network inferred from addr
  grpc://host:port    gRPC connection
  kafka://b1,b2/topic Kafka request topic on the given brokers`,

		SetFlags: command.Flags(flax.MustBind, &flags),
		Init: func(env *command.Env) error {
			if flags.LogFile != "" {
				commonlog.Initialize(flags.Verbose, flags.LogFile)
			} else {
				commonlog.Configure(flags.Verbose, nil)
			}
			return nil
		},

		Commands: []*command.C{
			{
				Name:     "serve",
				Help:     "Serve the standard module to remote callers until interrupted.",
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      command.Adapt(runServe),
			},
			{
				Name:  "modules",
				Usage: "<address>",
				Help:  "List the modules offered by the runtime at address.",
				Run:   command.Adapt(runModules),
			},
			{
				Name:  "info",
				Usage: "<address> <module>",
				Help:  "Show the words of a module offered by the runtime at address.",
				Run:   command.Adapt(runInfo),
			},
			{
				Name:  "exec",
				Usage: "<address> <words> [value ...]",
				Help: `Execute words on the runtime at address.

The words are separated by whitespace and run in one call, starting from a
stack holding the given values (bottom first). Values are parsed as integers,
floats, true, false, null, or JSON arrays and objects; anything else is a
string. The resulting stack is printed one item per line, bottom first.`,
				Run: runExec,
			},
			{
				Name:  "plan",
				Usage: "<words>",
				Help: `Show how a word sequence is batched across runtimes.

Runtimes and modules are loaded from the manifest. Words are resolved as
"module.word", then as a standard local word, then as a bare word of any
loaded module.`,
				Run: runPlan,
			},
			{
				Name:  "run",
				Usage: "<words> [value ...]",
				Help: `Run a word sequence across the runtimes of the manifest.

Words and values are as for the "exec" and "plan" commands.`,
				Run: runWords,
			},
			{
				Name:  "encode",
				Usage: "[value ...]",
				Help:  "Print the hex-encoded wire form of a stack holding the given values.",
				Run: func(env *command.Env) error {
					vs, err := parseValues(env.Args)
					if err != nil {
						return err
					}
					data, err := value.Marshal(value.Array(vs))
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(data))
					return nil
				},
			},
			{
				Name:  "decode",
				Usage: "<hex>",
				Help:  `Decode a hex-encoded wire value produced by "encode".`,
				Run: command.Adapt(func(env *command.Env, text string) error {
					data, err := hex.DecodeString(strings.TrimSpace(text))
					if err != nil {
						return err
					}
					v, err := value.Unmarshal(data)
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				}),
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func config() xrt.Config { return xrt.Config{Timeout: flags.Timeout} }

func dial(env *command.Env, address string) (xrt.Client, error) {
	cfg := config()
	_, cfg.Runtime = xrt.SplitScheme(address)
	return xrt.Dial(env.Context(), address, cfg)
}

func runServe(env *command.Env) error {
	if serveFlags.Listen == "" && serveFlags.GRPC == "" && serveFlags.Kafka == "" {
		return env.Usagef("at least one of --listen, --grpc, --kafka is required")
	}
	ctx, cancel := signal.NotifyContext(env.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tab := dispatch.NewTable(serveFlags.Runtime, dispatch.StandardModule())
	defer tab.Close()
	srv := server.New(tab, serveFlags.Runtime)

	g := taskgroup.New(nil)
	if serveFlags.Listen != "" {
		lst, err := net.Listen(peer.SplitAddress(serveFlags.Listen))
		if err != nil {
			return err
		}
		g.Go(func() error { return rpc.Serve(ctx, lst, srv) })
	}
	if serveFlags.GRPC != "" {
		lst, err := net.Listen("tcp", serveFlags.GRPC)
		if err != nil {
			return err
		}
		gs := grpcx.NewServer(srv)
		g.Go(func() error { return gs.Serve(lst) })
		g.Go(func() error { <-ctx.Done(); gs.GracefulStop(); return nil })
	}
	if serveFlags.Kafka != "" {
		kc, err := kafka.ParseAddress(serveFlags.Kafka)
		if err != nil {
			return env.Usagef("invalid --kafka: %v", err)
		}
		group := serveFlags.Group
		if group == "" {
			group = "xrt-" + kc.RequestTopic
		}
		rsp, err := kafka.NewResponder(kafka.ResponderConfig{
			Brokers:       kc.Brokers,
			Topic:         kc.RequestTopic,
			GroupID:       group,
			MaxConcurrent: serveFlags.Workers,
		}, srv)
		if err != nil {
			return err
		}
		defer rsp.Close()
		g.Go(func() error { return rsp.Run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runModules(env *command.Env, address string) error {
	cli, err := dial(env, address)
	if err != nil {
		return err
	}
	defer cli.Close()
	mods, err := cli.ListModules(env.Context())
	if err != nil {
		return err
	}
	return printJSON(mods)
}

func runInfo(env *command.Env, address, module string) error {
	cli, err := dial(env, address)
	if err != nil {
		return err
	}
	defer cli.Close()
	info, err := cli.GetModuleInfo(env.Context(), module)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runExec(env *command.Env) error {
	if len(env.Args) < 2 {
		return env.Usagef("missing address and words")
	}
	words := strings.Fields(env.Args[1])
	if len(words) == 0 {
		return env.Usagef("no words to execute")
	}
	stack, err := parseValues(env.Args[2:])
	if err != nil {
		return err
	}
	cli, err := dial(env, env.Args[0])
	if err != nil {
		return err
	}
	defer cli.Close()

	var out []value.Value
	if len(words) == 1 {
		out, err = cli.ExecuteWord(env.Context(), words[0], stack)
	} else {
		out, err = cli.ExecuteSequence(env.Context(), words, stack)
	}
	if err != nil {
		return report(err)
	}
	printStack(out)
	return nil
}

func runPlan(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("expected a single words argument")
	}
	reg, words, err := loadWords(env, env.Args[0])
	if err != nil {
		return err
	}
	defer reg.Reset()

	plan := xrt.Plan(words)
	for i, b := range plan {
		where := "local"
		if b.Remote {
			where = "remote " + b.Runtime
		}
		fmt.Printf("%d\t%s\t%s\n", i+1, where, strings.Join(b.Names(), " "))
	}
	st := xrt.Stats(plan)
	fmt.Printf("batches: %d (remote %d, local %d), mean size %.2f\n", st.Batches, st.Remote, st.Local, st.MeanSize)
	return nil
}

func runWords(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing words")
	}
	stack, err := parseValues(env.Args[1:])
	if err != nil {
		return err
	}
	reg, words, err := loadWords(env, env.Args[0])
	if err != nil {
		return err
	}
	defer reg.Reset()

	in := xrt.NewStack(stack...)
	if err := (xrt.Runner{Registry: reg}).Run(env.Context(), in, words); err != nil {
		return report(err)
	}
	printStack(in.Stack())
	return nil
}

// loadWords connects the runtimes of the manifest and resolves the words of
// text against the modules it names.
func loadWords(env *command.Env, text string) (*xrt.Registry, []xrt.Word, error) {
	m, err := loadManifest()
	if err != nil {
		return nil, nil, err
	}
	entries, err := m.Entries()
	if err != nil {
		return nil, nil, err
	}
	reg := xrt.NewRegistry(xrt.WithConfig(config()))
	mods, err := m.Apply(env.Context(), reg)
	if err != nil {
		reg.Reset()
		return nil, nil, err
	}

	var runtimes []string
	for _, e := range entries {
		runtimes = append(runtimes, e.Runtime)
	}
	res := newResolver(dispatch.StandardWords(runtimes...))
	for _, mod := range mods {
		ws, err := mod.Words()
		if err != nil {
			reg.Reset()
			return nil, nil, err
		}
		res.addModule(mod.Name(), ws)
	}

	var words []xrt.Word
	for _, name := range strings.Fields(text) {
		w, ok := res.lookup(name)
		if !ok {
			reg.Reset()
			return nil, nil, fmt.Errorf("%w: %q", xrt.ErrUnknownWord, name)
		}
		words = append(words, w)
	}
	return reg, words, nil
}

func loadManifest() (*manifest.Manifest, error) {
	if flags.Manifest != "" {
		return manifest.Load(flags.Manifest)
	}
	m, err := manifest.Lookup(".")
	if err != nil {
		return nil, err
	} else if m == nil {
		return nil, fmt.Errorf("no %s found and %s is not set", manifest.FileName, manifest.EnvVar)
	}
	return m, nil
}

// report adds the remote and local stacks to a remote failure.
func report(err error) error {
	var re *xrt.RemoteError
	if errors.As(err, &re) && flags.Verbose > 0 {
		fmt.Fprint(os.Stderr, re.Report())
	}
	return err
}

func printStack(vs []value.Value) {
	for _, v := range vs {
		fmt.Println(v)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
