package common

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dDoc/lib/database"
	"github.com/ValentinKolb/dDoc/lib/replicator"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/view"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Document fields
	Key        string           `json:"key,omitempty"`        // Used for: docGet, docPut, docDelete, replStop
	Rev        string           `json:"rev,omitempty"`        // Used for: docGet, docPut, docDelete (request and response)
	Properties store.Properties `json:"properties,omitempty"` // Used for: docPut
	Document   *store.Document  `json:"document,omitempty"`   // Used for: docGet (response)
	Documents  []store.Document `json:"documents,omitempty"`  // Used for: docAll (response)

	// Change feed and replication fields
	Since     uint64              `json:"since,omitempty"`     // Used for: changes
	Limit     int                 `json:"limit,omitempty"`     // Used for: changes
	Wait      int64               `json:"wait,omitempty"`      // Used for: changes, long poll timeout in milliseconds
	Seq       uint64              `json:"seq,omitempty"`       // Used for: changes (response), last sequence of the feed
	Changes   []store.Change      `json:"changes,omitempty"`   // Used for: changes (response)
	Revs      map[string][]string `json:"revs,omitempty"`      // Used for: revsDiff (request and response)
	RevRefs   []store.RevRef      `json:"revRefs,omitempty"`   // Used for: getRevs
	Revisions []store.Revision    `json:"revisions,omitempty"` // Used for: getRevs (response), putRevs

	// View fields
	View  *view.Spec         `json:"view,omitempty"`  // Used for: viewRegister
	Query *view.QueryOptions `json:"query,omitempty"` // Used for: viewQuery
	Rows  []view.Row         `json:"rows,omitempty"`  // Used for: viewQuery (response)

	// Replication control fields
	Replication  *ReplicationRequest        `json:"replication,omitempty"`  // Used for: replicate
	Result       *replicator.Result         `json:"result,omitempty"`       // Used for: replicate (response)
	Replications []database.ReplicationInfo `json:"replications,omitempty"` // Used for: replicate, replList (response)

	// Response only fields
	Ok        bool        `json:"ok,omitempty"`        // Used for: putRevs, replStop, viewRegister responses
	Conflicts int         `json:"conflicts,omitempty"` // Used for: putRevs (response), number of conflicting branches created
	Info      *store.Info `json:"info,omitempty"`      // Used for: info (response)
	Err       string      `json:"err,omitempty"`       // Empty if no error, otherwise contains the error message
	Code      string      `json:"code,omitempty"`      // Name of the store.RetCode if Err is a store error
}

// ReplicationRequest asks a server to replicate one of its databases with a
// database on another server.
type ReplicationRequest struct {
	Direction replicator.Direction `json:"direction"`
	Endpoints []string             `json:"endpoints"` // endpoints of the remote server
	Database  string               `json:"database"`  // name of the remote database
	Config    replicator.Config    `json:"config"`
}

// SetError stores err in the message. Typed store errors keep their code.
func (m *Message) SetError(err error) {
	if err == nil {
		return
	}
	if e, ok := err.(*store.Error); ok {
		m.Code = e.Code.String()
		m.Err = e.Msg
		if m.Err == "" {
			m.Err = m.Code
		}
		return
	}
	m.Err = err.Error()
}

// Error returns the error carried by the message or nil
func (m *Message) Error() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	if m.Code != "" {
		return store.NewError(store.ParseRetCode(m.Code), m.Err)
	}
	return fmt.Errorf("%s", m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewDocGetRequest creates a new docGet request. An empty rev requests the current revision.
func NewDocGetRequest(id, rev string) *Message {
	return &Message{
		MsgType: MsgTDocGet,
		Key:     id,
		Rev:     rev,
	}
}

// NewDocGetResponse creates a new docGet response
func NewDocGetResponse(doc *store.Document, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocGet,
	}
	if err != nil {
		msg.SetError(err)
		return msg
	}
	msg.Document = doc
	return msg
}

// NewDocPutRequest creates a new docPut request
func NewDocPutRequest(id string, props store.Properties, rev string) *Message {
	return &Message{
		MsgType:    MsgTDocPut,
		Key:        id,
		Properties: props,
		Rev:        rev,
	}
}

// NewDocPutResponse creates a new docPut response
func NewDocPutResponse(rev string, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocPut,
		Rev:     rev,
	}
	msg.SetError(err)
	return msg
}

// NewDocDeleteRequest creates a new docDelete request
func NewDocDeleteRequest(id, rev string) *Message {
	return &Message{
		MsgType: MsgTDocDelete,
		Key:     id,
		Rev:     rev,
	}
}

// NewDocDeleteResponse creates a new docDelete response
func NewDocDeleteResponse(rev string, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocDelete,
		Rev:     rev,
	}
	msg.SetError(err)
	return msg
}

// NewDocAllRequest creates a new docAll request
func NewDocAllRequest() *Message {
	return &Message{
		MsgType: MsgTDocAll,
	}
}

// NewDocAllResponse creates a new docAll response
func NewDocAllResponse(docs []store.Document, err error) *Message {
	msg := &Message{
		MsgType:   MsgTDocAll,
		Documents: docs,
	}
	msg.SetError(err)
	return msg
}

// NewChangesRequest creates a new changes request. A positive wait makes the
// server hold the request until a change after since exists or wait elapsed.
func NewChangesRequest(since uint64, limit int, wait int64) *Message {
	return &Message{
		MsgType: MsgTChanges,
		Since:   since,
		Limit:   limit,
		Wait:    wait,
	}
}

// NewChangesResponse creates a new changes response
func NewChangesResponse(changes []store.Change, lastSeq uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTChanges,
		Changes: changes,
		Seq:     lastSeq,
	}
	msg.SetError(err)
	return msg
}

// NewRevsDiffRequest creates a new revsDiff request
func NewRevsDiffRequest(revs map[string][]string) *Message {
	return &Message{
		MsgType: MsgTRevsDiff,
		Revs:    revs,
	}
}

// NewRevsDiffResponse creates a new revsDiff response
func NewRevsDiffResponse(missing map[string][]string, err error) *Message {
	msg := &Message{
		MsgType: MsgTRevsDiff,
		Revs:    missing,
	}
	msg.SetError(err)
	return msg
}

// NewGetRevsRequest creates a new getRevs request
func NewGetRevsRequest(refs []store.RevRef) *Message {
	return &Message{
		MsgType: MsgTGetRevs,
		RevRefs: refs,
	}
}

// NewGetRevsResponse creates a new getRevs response
func NewGetRevsResponse(revs []store.Revision, err error) *Message {
	msg := &Message{
		MsgType:   MsgTGetRevs,
		Revisions: revs,
	}
	msg.SetError(err)
	return msg
}

// NewPutRevsRequest creates a new putRevs request
func NewPutRevsRequest(revs []store.Revision) *Message {
	return &Message{
		MsgType:   MsgTPutRevs,
		Revisions: revs,
	}
}

// NewPutRevsResponse creates a new putRevs response
func NewPutRevsResponse(conflicts int, err error) *Message {
	msg := &Message{
		MsgType:   MsgTPutRevs,
		Ok:        err == nil,
		Conflicts: conflicts,
	}
	msg.SetError(err)
	return msg
}

// NewViewRegisterRequest creates a new viewRegister request
func NewViewRegisterRequest(spec view.Spec) *Message {
	return &Message{
		MsgType: MsgTViewRegister,
		View:    &spec,
	}
}

// NewViewRegisterResponse creates a new viewRegister response
func NewViewRegisterResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTViewRegister,
		Ok:      err == nil,
	}
	msg.SetError(err)
	return msg
}

// NewViewQueryRequest creates a new viewQuery request
func NewViewQueryRequest(name string, opts view.QueryOptions) *Message {
	return &Message{
		MsgType: MsgTViewQuery,
		Key:     name,
		Query:   &opts,
	}
}

// NewViewQueryResponse creates a new viewQuery response
func NewViewQueryResponse(rows []view.Row, err error) *Message {
	msg := &Message{
		MsgType: MsgTViewQuery,
		Rows:    rows,
	}
	msg.SetError(err)
	return msg
}

// NewReplicateRequest creates a new replicate request
func NewReplicateRequest(req ReplicationRequest) *Message {
	return &Message{
		MsgType:     MsgTReplicate,
		Replication: &req,
	}
}

// NewReplicateResponse creates a new replicate response. A one-shot replication
// answers with its result, a continuous one with its current state.
func NewReplicateResponse(res *replicator.Result, infos []database.ReplicationInfo, err error) *Message {
	msg := &Message{
		MsgType:      MsgTReplicate,
		Result:       res,
		Replications: infos,
	}
	msg.SetError(err)
	return msg
}

// NewReplListRequest creates a new replList request
func NewReplListRequest() *Message {
	return &Message{
		MsgType: MsgTReplList,
	}
}

// NewReplListResponse creates a new replList response
func NewReplListResponse(infos []database.ReplicationInfo) *Message {
	return &Message{
		MsgType:      MsgTReplList,
		Replications: infos,
	}
}

// NewReplStopRequest creates a new replStop request
func NewReplStopRequest(id string) *Message {
	return &Message{
		MsgType: MsgTReplStop,
		Key:     id,
	}
}

// NewReplStopResponse creates a new replStop response
func NewReplStopResponse(ok bool) *Message {
	return &Message{
		MsgType: MsgTReplStop,
		Ok:      ok,
	}
}

// NewInfoRequest creates a new info request
func NewInfoRequest() *Message {
	return &Message{
		MsgType: MsgTInfo,
	}
}

// NewInfoResponse creates a new info response
func NewInfoResponse(info *store.Info, err error) *Message {
	msg := &Message{
		MsgType: MsgTInfo,
		Info:    info,
	}
	msg.SetError(err)
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// messageTypeNames maps every MessageType to its wire name
var messageTypeNames = map[MessageType]string{
	MsgTSuccess:      "success",
	MsgTError:        "error",
	MsgTDocGet:       "docGet",
	MsgTDocPut:       "docPut",
	MsgTDocDelete:    "docDelete",
	MsgTDocAll:       "docAll",
	MsgTChanges:      "changes",
	MsgTRevsDiff:     "revsDiff",
	MsgTGetRevs:      "getRevs",
	MsgTPutRevs:      "putRevs",
	MsgTViewRegister: "viewRegister",
	MsgTViewQuery:    "viewQuery",
	MsgTReplicate:    "replicate",
	MsgTReplList:     "replList",
	MsgTReplStop:     "replStop",
	MsgTInfo:         "info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Document operations

	MsgTDocGet    // Get a document or one of its revisions
	MsgTDocPut    // Create or update a document
	MsgTDocDelete // Delete a document
	MsgTDocAll    // List all live documents

	// Replication protocol

	MsgTChanges  // Read the change feed (optionally long polling)
	MsgTRevsDiff // Find revisions missing on the server
	MsgTGetRevs  // Fetch revision bodies by id and rev
	MsgTPutRevs  // Store replicated revisions

	// Views

	MsgTViewRegister // Register a declarative view
	MsgTViewQuery    // Query a view

	// Replication control and management

	MsgTReplicate // Run a replication with another server
	MsgTReplList  // List active replications
	MsgTReplStop  // Stop an active replication
	MsgTInfo      // Describe the database
)
