// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package xrt lets a Forthic interpreter run words that live in another
// language runtime as if they were local.
//
// # Words
//
// A [Word] is a named procedure that acts on the stack of an [Interp]. Local
// words run in-process. A [RemoteWord] sends the whole stack to a remote
// runtime in one ExecuteWord call and replaces the local stack with the
// result. A [RemoteModule] discovers the words of one module on a remote
// runtime and materializes a RemoteWord for each of them:
//
//	mod := xrt.NewRemoteModule("math", "python", client)
//	if err := mod.Initialize(ctx); err != nil {
//	   return err
//	}
//	w, err := mod.Word("DIVIDE")
//
// # Clients and transports
//
// A [Client] carries the four runtime operations (ExecuteWord,
// ExecuteSequence, ListModules, GetModuleInfo) to one remote runtime.
// Transports register a [Dialer] for an address scheme with
// [RegisterTransport]; the transport packages do this when imported:
//
//	import _ "github.com/forthix/xrt/transport/rpc"   // tcp, unix, chirp
//	import _ "github.com/forthix/xrt/transport/grpcx" // grpc
//	import _ "github.com/forthix/xrt/transport/kafka" // kafka
//
// Every call made by a transport client is bounded by the timeout in its
// [Config] (30 seconds unless set). Calls are never retried automatically.
//
// # Registry
//
// A [Registry] maps runtime names to connected clients. Each name has at most
// one live client; connecting a name twice is a usage error. Programs
// typically construct one registry at startup and pass it where needed with
// [WithRegistry]. [Default] returns a lazily-constructed process registry,
// and [ResetDefault] discards it.
//
// # Planning
//
// [Plan] partitions a sequence of words into contiguous batches that are
// either wholly local or wholly bound for one remote runtime. A [Runner]
// executes a plan, issuing one ExecuteSequence call per remote batch.
//
// # Errors
//
// Failures reported by a remote runtime arrive as [ErrorInfo] and become a
// [*RemoteError] through [FromWire]. Connection and timeout failures are
// reported as [*TransportError] and never carry a remote stack trace. Local
// misuse is reported as [*UsageError]. A failing word wraps any of these in a
// [*WordError] naming its runtime, module, and word.
package xrt
