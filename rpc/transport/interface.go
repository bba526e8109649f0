package transport

import (
	"context"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the name of the addressed database and a request as parameters and returns a response.
// ctx is cancelled when the caller goes away, which ends long polls early.
type ServerHandleFunc func(ctx context.Context, database string, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen listens on config.Endpoint and serves requests until Shutdown is called
	Listen(config common.ServerConfig) error
	// Serve serves requests on an existing listener until Shutdown is called
	Serve(l net.Listener, config common.ServerConfig) error
	// Shutdown stops the transport, waiting for running requests until ctx is done
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a database to the server and returns the response.
	// Errors returned by Send are transport errors, they never carry a store.Error.
	Send(ctx context.Context, database string, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
