// Package cmd implements the command-line interface of dDoc. It provides a
// hierarchical command structure for running the server and talking to it.
//
// The package is organized into several subpackages:
//
//   - serve: start and configure a dDoc server
//   - doc: document operations (put, get, del, all, changes) and a benchmark
//   - view: register and query views
//   - repl: start, list and stop replications between servers
//   - util: shared flag, configuration and output helpers (internal use)
//
// Every flag can also be set as environment variable DDOC_<FLAG>
// (e.g. DDOC_TRANSPORT_ENDPOINTS), .env and .env.local are loaded.
//
// See ddoc -help for a list of all commands.
package cmd
