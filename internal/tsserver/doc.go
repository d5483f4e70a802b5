// Package tsserver manages TypeScript standalone server (tsserver) sessions.
//
// The package spawns and supervises a tsserver child process (or attaches to
// one over a socket), frames its wire protocol, queues outgoing requests by
// priority class, correlates responses to waiting callers, recovers from
// crashes under an escalating restart policy, and batches diagnostics pulls.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Client: public entry point; owns the restart policy and document state
//   - service: one running server instance (transport + queue + callbacks)
//   - Transport: process stdio, node IPC channel, or TCP socket
//   - FrameReader/FrameWriter: Content-Length and line-delimited framing
//   - RequestQueue: Normal/Low/Fence priority lanes
//   - CallbackRegistry: request_seq to pending-caller correlation
//   - DiagnosticsScheduler: debounced, coalescing geterr pulls
//
// # Quick Start
//
// Create and start a client:
//
//	cfg := tsserver.DefaultConfig()
//	cfg.TSServerPath = "/usr/lib/node_modules/typescript/lib/tsserver.js"
//
//	client := tsserver.NewClient(cfg, bus)
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop(ctx)
//
//	client.OpenFile("/src/app.ts", content, "/src")
//
//	res, err := client.Execute(ctx, "quickinfo", args)
//	if err == nil && res.Outcome == tsserver.OutcomeResponse {
//	    // res.Response.Body holds the server payload
//	}
//
// # Request Classes
//
// Document mutations (open, change, close) are fence requests: the server
// requires their relative order, so they travel in a strict FIFO lane.
// Diagnostics pulls are asynchronous: the server acknowledges them with a
// requestCompleted event instead of a response, and they are exempt from the
// one-request-in-flight throttle that paces everything else. All remaining
// requests are normal priority.
//
// # Crash Recovery
//
// An unexpected server exit fails every pending caller, drains the queue, and
// restarts the process. Restarts escalate: more than MaxRestarts exits with
// the last one landing inside ShortWindow of the previous start is fatal;
// inside LongWindow it is a logged warning; beyond that the restart is
// silent. Open documents are replayed to the new instance.
//
// # Thread Safety
//
// Client is safe for concurrent use. The queue and registry use internal
// locking; session state is an atomic.
package tsserver
