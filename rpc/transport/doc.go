// Package transport defines how serialized RPC messages travel between client
// and server. Implementations only move bytes: they address a database by name
// and know nothing about the message content.
//
// The only implementation is HTTP (package transport/http).
package transport
