// Package http implements the RPC transport over HTTP.
//
// Every request is a POST to /{database} whose body is a serialized
// common.Message; the response body is the serialized answer. The server also
// exposes the process metrics in Prometheus format at GET /metrics.
//
// Key Components:
//
//   - httpServerTransport: routes requests to the registered handler by
//     database name. The request context is passed on so long polls end when
//     the client disconnects. With log level "debug" every request is logged.
//
//   - httpClientTransport: sends requests round-robin to the configured
//     endpoints and retries failed attempts on the next endpoint. Timeouts come
//     from the caller's context.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently.
package http
