// Package aserver implements a server for the legacy text-based
// AnalysisServer protocol used by ModelCenter-style clients to drive
// remote simulation components.
//
// # Architecture
//
// The server is a TCP listener with one session per client. Each session
// owns a private namespace of started component instances; commands that
// touch an instance run on that instance's worker goroutine, strictly in
// submission order.
//
//	┌─────────────────────────────────────┐
//	│            server.Server            │  Listener, host filter,
//	│   (accept loop, session registry)   │  lifecycle, metrics
//	└─────────────────────────────────────┘
//	           ↓ one per client
//	┌─────────────────────────────────────┐
//	│           server.Handler            │  Command dispatch,
//	│  (session loop, instance namespace) │  reply serialization
//	└─────────────────────────────────────┘
//	           ↓ one per instance
//	┌─────────────────────────────────────┐
//	│         wrapper.Component           │  Property resolution,
//	│    (variable wrappers, monitors)    │  wire encodings
//	└─────────────────────────────────────┘
//	           ↓ adapts
//	┌─────────────────────────────────────┐
//	│           types.System              │  The hosted simulation
//	│     (Get/Set/Invoke/Run surface)    │  component
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - types: the shared value model (scalars, arrays, lists, files) and
//     the System capability required from hosted components
//   - errors: the protocol error taxonomy with fixed wire messages
//   - protocol: cooked (line-oriented) and raw (length-prefixed) framing
//   - wrapper: variable wrappers, wire codecs, component adapter, file
//     monitors
//   - registry: the catalog of publishable component types, configured
//     from YAML
//   - wrkpool: per-instance serializing workers and one-shot background
//     tasks
//   - server: the TCP listener and per-session command handlers
//   - metric: Prometheus metrics (nil registry disables collection)
//   - events: optional NATS lifecycle event publishing
//   - testutil: an in-process component for tests and demos
//
// # Protocol
//
// Sessions start in cooked mode: newline-terminated commands, replies
// terminated by a '>' prompt. A client may switch permanently to raw
// mode (setMode raw), where requests and replies carry explicit ids and
// byte lengths so large binary payloads and concurrent background
// replies are possible. See the protocol package for framing details.
package aserver
