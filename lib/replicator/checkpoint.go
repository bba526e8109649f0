package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/db/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"time"
)

// checkpointPrefix is the prefix of checkpoint ids in the local document namespace
const checkpointPrefix = "repl-"

// CheckpointID derives the id of the checkpoint of a (store, peer, direction, filter) tuple
func CheckpointID(localID, peerID string, direction Direction, filter string) string {
	return checkpointPrefix + util.HashStrings(localID, peerID, direction.String(), filter)
}

// checkpoint is the stored representation
type checkpoint struct {
	Seq       uint64    `json:"seq"`
	Peer      string    `json:"peer"`
	Direction Direction `json:"direction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Checkpointer persists the last fully applied source sequence as a local document.
type Checkpointer struct {
	docs      store.IDocStore
	id        string
	peer      string
	direction Direction
}

// NewCheckpointer creates a checkpointer for the given checkpoint id
func NewCheckpointer(docs store.IDocStore, id, peer string, direction Direction) *Checkpointer {
	return &Checkpointer{docs: docs, id: id, peer: peer, direction: direction}
}

// ID returns the checkpoint id
func (c *Checkpointer) ID() string {
	return c.id
}

// Load returns the stored sequence or 0 if there is none
func (c *Checkpointer) Load(ctx context.Context) (uint64, error) {
	raw, ok, err := c.docs.GetLocal(ctx, c.id)
	if err != nil || !ok {
		return 0, err
	}
	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return 0, fmt.Errorf("corrupt checkpoint %s: %w", c.id, err)
	}
	return cp.Seq, nil
}

// Save stores the sequence
func (c *Checkpointer) Save(ctx context.Context, seq uint64) error {
	raw, err := json.Marshal(checkpoint{Seq: seq, Peer: c.peer, Direction: c.direction, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.docs.PutLocal(ctx, c.id, raw)
}
