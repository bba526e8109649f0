package server

import (
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
)

// NewHTTPPeerFactory returns a PeerFactory that reaches remote databases over
// the HTTP transport. Transport retries are left to the replicator, so the
// client itself tries every endpoint only once per request.
func NewHTTPPeerFactory(timeoutSecond int, serializer serializer.IRPCSerializer) PeerFactory {
	return func(req common.ReplicationRequest) (replicator.IPeer, func() error, error) {
		if len(req.Endpoints) == 0 || req.Database == "" {
			return nil, nil, store.NewError(store.RetCInvalidOperation, "replication needs remote endpoints and a database name")
		}
		c, err := client.NewRPCDatabase(req.Database, common.ClientConfig{
			Endpoints:     req.Endpoints,
			TimeoutSecond: timeoutSecond,
			RetryCount:    len(req.Endpoints) - 1,
		}, http.NewHttpClientTransport(), serializer)
		if err != nil {
			return nil, nil, store.Errorf(store.RetCInvalidOperation, "invalid remote: %v", err)
		}
		return c, c.Close, nil
	}
}
