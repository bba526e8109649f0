package client

import (
	"context"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"time"
)

// LongPollWait is how long the server holds a WaitForChanges request
// before answering without changes.
var LongPollWait = 25 * time.Second

// NewRPCPeer returns a replication peer for a database on a remote server
func NewRPCPeer(
	name string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (replicator.IPeer, error) {
	return NewRPCDatabase(name, config, transport, serializer)
}

// compile time check
var _ replicator.IPeer = (*RPCDatabase)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see replicator.IPeer)
// --------------------------------------------------------------------------

func (c *RPCDatabase) ID(ctx context.Context) (string, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return "", err
	}
	return info.UUID, nil
}

func (c *RPCDatabase) Changes(ctx context.Context, since uint64, limit int) ([]store.Change, error) {
	changes, _, err := c.ChangesSince(ctx, since, limit)
	return changes, err
}

func (c *RPCDatabase) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewRevsDiffRequest(revs), c.timeout())
	if err != nil {
		return nil, err
	}
	if resp.Revs == nil {
		return map[string][]string{}, nil
	}
	return resp.Revs, nil
}

func (c *RPCDatabase) GetRevisions(ctx context.Context, refs []store.RevRef) ([]store.Revision, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewGetRevsRequest(refs), c.timeout())
	if err != nil {
		return nil, err
	}
	return resp.Revisions, nil
}

func (c *RPCDatabase) PutRevisions(ctx context.Context, revs []store.Revision) (int, error) {
	resp, err := c.invokeRPCRequest(ctx, common.NewPutRevsRequest(revs), c.timeout())
	if err != nil {
		return 0, err
	}
	return resp.Conflicts, nil
}

func (c *RPCDatabase) WaitForChanges(ctx context.Context, since uint64) error {
	wait := LongPollWait
	timeout := c.timeout()
	if timeout > 0 {
		timeout += wait
	}
	_, err := c.invokeRPCRequest(ctx, common.NewChangesRequest(since, 1, wait.Milliseconds()), timeout)
	return err
}
