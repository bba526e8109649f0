// Package rpc contains the network layer of dDoc.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, client and server configuration and the
//     logger used by all packages.
//
//   - serializer: converts messages to bytes (JSON or GOB).
//
//   - transport: moves serialized messages between client and server (HTTP).
//
//   - client: RPC client for a remote database, also usable as replication peer.
//
//   - server: hosts named databases and serves requests for them.
package rpc
