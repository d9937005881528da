// Package model holds the wire-level and in-memory value types shared by the
// router, handler registry, scheduler and state manager.
package model

import (
	"github.com/google/uuid"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type Kind string

const (
	KindTargeted  Kind = "targeted"
	KindBroadcast Kind = "broadcast"
	KindResponse  Kind = "response"
)

// RequestContext is the opaque-to-transport request context carried by every
// envelope: identity, project scoping and read-deleted policy. It is copied,
// never mutated in place, matching the "no temporary_mutation" design note.
type RequestContext struct {
	UserID      string `json:"user_id"`
	ProjectID   string `json:"project_id"`
	IsAdmin     bool   `json:"is_admin"`
	ReadDeleted string `json:"read_deleted"` // "", "yes", "no", "only"
	RequestID   string `json:"request_id"`
}

// Elevated returns a derived context with IsAdmin set, leaving the receiver
// untouched.
func (c RequestContext) Elevated() RequestContext {
	c.IsAdmin = true
	return c
}

// WithReadDeleted returns a derived context with the given read-deleted
// policy, leaving the receiver untouched.
func (c RequestContext) WithReadDeleted(policy string) RequestContext {
	c.ReadDeleted = policy
	return c
}

// Envelope is the message that travels between cells. Fields not relevant to
// a given Kind are left zero.
type Envelope struct {
	ID            string         `json:"id"`
	Ctxt          RequestContext `json:"ctxt"`
	MethodName    string         `json:"method_name"`
	MethodKwargs  map[string]any `json:"method_kwargs"`
	Direction     Direction      `json:"direction"`
	RoutingPath   cellpath.Path  `json:"routing_path"`
	HopCount      int            `json:"hop_count"`
	MaxHopCount   int            `json:"max_hop_count"`
	Kind          Kind           `json:"kind"`
	TargetPath    cellpath.Path  `json:"target_path,omitempty"`
	Fanout        bool           `json:"fanout"`
	NeedResponse  bool           `json:"need_response"`
	RunLocally    bool           `json:"run_locally,omitempty"`
	ResponseUUID  string         `json:"response_uuid,omitempty"`

	// OriginHost is the hostname of whichever cell is currently waiting on
	// ResponseUUID; a response is published directly to its per-host queue
	// rather than retracing the request's hop chain (spec.md section 4.3,
	// "Response routing").
	OriginHost string `json:"origin_host,omitempty"`

	// Set only when Kind == KindResponse.
	ResponseValue   any      `json:"response_value,omitempty"`
	ResponseFailure *Failure `json:"response_failure,omitempty"`
}

// Clone returns a deep-enough copy safe to mutate (routing path, kwargs map)
// without aliasing the original. Used when fanning a broadcast out to
// multiple next hops.
func (e *Envelope) Clone() *Envelope {
	out := *e
	out.RoutingPath = e.RoutingPath.Clone()
	out.TargetPath = e.TargetPath.Clone()
	if e.MethodKwargs != nil {
		out.MethodKwargs = make(map[string]any, len(e.MethodKwargs))
		for k, v := range e.MethodKwargs {
			out.MethodKwargs[k] = v
		}
	}
	return &out
}

// NewResponseUUID mints an identifier used to correlate a response with its
// waiting caller.
func NewResponseUUID() string {
	return uuid.NewString()
}
