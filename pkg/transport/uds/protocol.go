// Package uds is the NDJSON protocol between ktaild and its clients over a
// Unix domain socket.
package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/njust/KTail-sub000/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the payload into v. An empty payload leaves v untouched.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Method, err)
	}
	return nil
}

func newMessage(typ MsgType, id, method string, data any) (Message, error) {
	msg := Message{Type: typ, ID: id, Method: method}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", method, err)
		}
		msg.Data = b
	}
	return msg, nil
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	return newMessage(MsgTypeReq, fmt.Sprintf("req-%d", reqCounter.Add(1)), method, data)
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	return newMessage(MsgTypeRes, reqID, method, data)
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	return newMessage(MsgTypeEvt, fmt.Sprintf("evt-%d", reqCounter.Add(1)), method, data)
}

// Methods
const (
	MethodPing          = "Ping"
	MethodListViews     = "ListViews"
	MethodSnapshot      = "Snapshot"
	MethodGetRules      = "GetRules"
	MethodApplyRules    = "ApplyRules"
	MethodSearch        = "Search"
	MethodListWorkloads = "ListWorkloads"

	EventViewUpdate = "view.update"
	EventViewsDelta = "views.delta"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// ViewInfo describes one running view.
type ViewInfo struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	State  string   `json:"state"`
	Active []string `json:"active,omitempty"` // live sub-streams of a remote view
	Error  string   `json:"error,omitempty"`  // last source failure
}

// ListViewsResponse is the response to ListViews.
type ListViewsResponse struct {
	Views []ViewInfo `json:"views"`
}

// ViewRequest names the view a request applies to.
type ViewRequest struct {
	View string `json:"view"`
}

// RulesResponse carries the active rule set.
type RulesResponse struct {
	Rules []core.Rule `json:"rules"`
}

// ApplyRulesRequest replaces the rule set of every view. Save also writes the
// rules to the manifest.
type ApplyRulesRequest struct {
	Rules []core.Rule `json:"rules"`
	Save  bool        `json:"save,omitempty"`
}

// ApplyRulesResponse reports the applied delta.
type ApplyRulesResponse struct {
	Delta core.RuleDelta `json:"delta"`
}

// SearchRequest sets the search query of a view.
type SearchRequest struct {
	View  string `json:"view"`
	Query string `json:"query"`
}

// SearchResponse lists the matching display lines.
type SearchResponse struct {
	Lines []int `json:"lines"`
}

// WorkloadsRequest asks a provider for its workloads.
type WorkloadsRequest struct {
	Provider  core.ProviderKind `json:"provider"`
	Namespace string            `json:"namespace"`
}

// WorkloadsResponse lists workloads with their ids.
type WorkloadsResponse struct {
	Workloads []WorkloadInfo `json:"workloads"`
}

// WorkloadInfo is a workload plus its id.
type WorkloadInfo struct {
	ID string `json:"id"`
	core.Workload
}
