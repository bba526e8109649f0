package server

import (
	"context"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for a database and returns a response.
	// ctx ends when the client goes away.
	// If an error occurs, it should be set in the response
	Handle(ctx context.Context, req *common.Message, db *database.Database) (resp *common.Message)
}
