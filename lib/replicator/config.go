package replicator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrStopped is the cause of a run that was stopped by Stop or its context
	ErrStopped = errors.New("replication stopped")
	// ErrAlreadyRunning is returned when another run holds the same checkpoint
	ErrAlreadyRunning = errors.New("replication with the same checkpoint is already running")
)

// --------------------------------------------------------------------------
// Direction
// --------------------------------------------------------------------------

// Direction of a replication as seen from the local store
type Direction int

const (
	Push Direction = iota // local -> remote
	Pull                  // remote -> local
)

func (d Direction) String() string {
	switch d {
	case Push:
		return "push"
	case Pull:
		return "pull"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses "push" or "pull"
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "push":
		return Push, nil
	case "pull":
		return Pull, nil
	default:
		return 0, fmt.Errorf("invalid replication direction %q", s)
	}
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// State of the replication state machine
type State int

const (
	Idle State = iota
	Connecting
	Transferring
	Completed
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Transferring:
		return "transferring"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Stopped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("invalid replication state %q", text)
}

// Terminal reports whether the state can not be left anymore.
// Completed is not terminal since continuous replications leave it on new changes.
func (s State) Terminal() bool {
	return s == Failed || s == Stopped
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

const maxRetryBackoff = 10 * time.Second

// Config configures a replication run
type Config struct {
	Direction    Direction     `json:"direction"`
	BatchSize    int           `json:"batch_size"`    // changes per batch
	MaxRetries   int           `json:"max_retries"`   // retries per batch before the run fails, 0 = default, < 0 = none
	RetryBackoff time.Duration `json:"retry_backoff"` // first backoff, doubled per attempt
	Continuous   bool          `json:"continuous"`    // keep running after the feed is exhausted
	PollInterval time.Duration `json:"poll_interval"` // used for peers that cannot wait for changes
	Filter       string        `json:"filter"`        // doublestar glob on document ids, empty for all
}

// DefaultConfig returns the default replication config for a direction
func DefaultConfig(direction Direction) Config {
	return Config{
		Direction:    direction,
		BatchSize:    100,
		MaxRetries:   5,
		RetryBackoff: 200 * time.Millisecond,
		PollInterval: time.Second,
	}
}

// withDefaults fills zero values
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Direction)
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = d.MaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// --------------------------------------------------------------------------
// Notifications
// --------------------------------------------------------------------------

// Progress is reported after every applied batch and on state changes
type Progress struct {
	Direction       Direction `json:"direction"`
	State           State     `json:"state"`
	DocsChecked     int       `json:"docs_checked"`     // revisions compared with the target
	DocsTransferred int       `json:"docs_transferred"` // revisions written to the target
	Conflicts       int       `json:"conflicts"`
	Sequence        uint64    `json:"sequence"` // checkpointed source sequence
}

// Result is the outcome of a replication run
type Result struct {
	Success         bool   `json:"success"`
	State           State  `json:"state"`
	Sequence        uint64 `json:"sequence"`
	DocsTransferred int    `json:"docs_transferred"`
	Conflicts       int    `json:"conflicts"`
	Err             error  `json:"-"`
	Error           string `json:"error,omitempty"`
}
