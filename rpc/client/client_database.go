package client

import (
	"context"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// RPCDatabase is a client for one database hosted by a dDoc server.
// It also implements replicator.IPeer, so a remote database can be used as
// replication peer (see NewRPCPeer).
//
// Thread-safety: safe for concurrent use.
type RPCDatabase struct {
	rpcClientAdapter
}

// NewRPCDatabase connects the transport and returns a client for the named database
//
// Usage:
//
//	books, err := client.NewRPCDatabase(
//		"books",
//		common.ClientConfig{Endpoints: []string{"localhost:8080"}, TimeoutSecond: 5, RetryCount: 2},
//		http.NewHttpClientTransport(),
//		serializer.NewJSONSerializer(),
//	)
func NewRPCDatabase(
	name string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCDatabase, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCDatabase{
		rpcClientAdapter{
			database:   name,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// Name returns the name of the remote database
func (c *RPCDatabase) Name() string {
	return c.database
}

// Close closes the underlying transport
func (c *RPCDatabase) Close() error {
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------------

// Get returns the current revision of a document
func (c *RPCDatabase) Get(ctx context.Context, id string) (store.Document, error) {
	return c.GetRevision(ctx, id, "")
}

// GetRevision returns a specific revision of a document (empty rev = current)
func (c *RPCDatabase) GetRevision(ctx context.Context, id, rev string) (store.Document, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewDocGetRequest(id, rev), c.timeout())
	if err != nil {
		return store.Document{}, err
	}
	if resp.Document == nil {
		return store.Document{}, store.Errorf(store.RetCNotFound, "document %s not found", id)
	}
	return *resp.Document, nil
}

// Put creates or updates a document and returns the new revision
func (c *RPCDatabase) Put(ctx context.Context, id string, props store.Properties, rev string) (string, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewDocPutRequest(id, props, rev), c.timeout())
	if err != nil {
		return "", err
	}
	return resp.Rev, nil
}

// Delete tombstones a document and returns the tombstone revision
func (c *RPCDatabase) Delete(ctx context.Context, id, rev string) (string, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewDocDeleteRequest(id, rev), c.timeout())
	if err != nil {
		return "", err
	}
	return resp.Rev, nil
}

// AllDocs returns all live documents ordered by id
func (c *RPCDatabase) AllDocs(ctx context.Context) ([]store.Document, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewDocAllRequest(), c.timeout())
	if err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// ChangesSince returns at most limit changes after since and the last sequence of the feed
func (c *RPCDatabase) ChangesSince(ctx context.Context, since uint64, limit int) ([]store.Change, uint64, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewChangesRequest(since, limit, 0), c.timeout())
	if err != nil {
		return nil, 0, err
	}
	return resp.Changes, resp.Seq, nil
}

// Info describes the remote database
func (c *RPCDatabase) Info(ctx context.Context) (store.Info, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewInfoRequest(), c.timeout())
	if err != nil {
		return store.Info{}, err
	}
	if resp.Info == nil {
		return store.Info{}, store.NewError(store.RetCInternalError, "info response without info")
	}
	return *resp.Info, nil
}

// --------------------------------------------------------------------------
// Views
// --------------------------------------------------------------------------

// RegisterView registers a declarative view on the server
func (c *RPCDatabase) RegisterView(ctx context.Context, spec view.Spec) error {
	_, err := c.invokeRPCRequest(ctx, common.NewViewRegisterRequest(spec), c.timeout())
	return err
}

// QueryView queries a view on the server
func (c *RPCDatabase) QueryView(ctx context.Context, name string, opts view.QueryOptions) ([]view.Row, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewViewQueryRequest(name, opts), c.timeout())
	if err != nil {
		return nil, err
	}
	if resp.Rows == nil {
		return []view.Row{}, nil
	}
	return resp.Rows, nil
}

// --------------------------------------------------------------------------
// Replication control
// --------------------------------------------------------------------------

// Replicate asks the server to replicate this database with a database on another server.
// One-shot replications block until they end and return their result, continuous
// replications return right away with their state. The client timeout does not apply.
func (c *RPCDatabase) Replicate(ctx context.Context, req common.ReplicationRequest) (*replicator.Result, []database.ReplicationInfo, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewReplicateRequest(req), 0)
	if err != nil {
		return nil, nil, err
	}
	return resp.Result, resp.Replications, nil
}

// Replications lists the active replications of this database
func (c *RPCDatabase) Replications(ctx context.Context) ([]database.ReplicationInfo, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewReplListRequest(), c.timeout())
	if err != nil {
		return nil, err
	}
	return resp.Replications, nil
}

// StopReplication stops an active replication. It returns false for unknown ids.
func (c *RPCDatabase) StopReplication(ctx context.Context, id string) (bool, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewReplStopRequest(id), c.timeout())
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
