// Package cellerr defines the cross-cell error taxonomy from the routing
// layer's error handling design: routing failures, scheduler exhaustion and
// the DB-retry family, plus the module+class+args wire representation used
// to carry a typed failure across a process boundary.
package cellerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Compare with errors.Is; details travel in wrapped errors.
var (
	ErrCellRoutingInconsistency = errors.New("cell routing inconsistency")
	ErrCellMaxHopCountReached   = errors.New("cell max hop count reached")
	ErrNoCellsAvailable         = errors.New("no cells available")
	ErrInstanceNotFound         = errors.New("instance not found")
	ErrInvalidUUID              = errors.New("invalid uuid")
	ErrInstanceExists           = errors.New("instance exists")
	ErrUnexpectedTaskState      = errors.New("unexpected task state")
	ErrUnexpectedVMState        = errors.New("unexpected vm state")
	ErrMethodNotFound           = errors.New("method not found")

	// DBRetryable family.
	ErrDBTransient   = errors.New("db transient error")
	ErrDBDeadlock    = errors.New("db deadlock")
	ErrDBIOLost      = errors.New("db io lost")
	ErrDBServerGone  = errors.New("db server has gone away")
	ErrDBCantConnect = errors.New("db cannot connect")
	ErrDBDuplicate   = errors.New("db duplicate entry")
	ErrDBFatal       = errors.New("db fatal error")
)

const module = "cellmesh.cellerr"

// classByClass maps a wire Class string back to its sentinel, for
// reconstructing a typed error on the receiving side of a response.
var classByClass = map[string]error{
	"CellRoutingInconsistency": ErrCellRoutingInconsistency,
	"CellMaxHopCountReached":   ErrCellMaxHopCountReached,
	"NoCellsAvailable":         ErrNoCellsAvailable,
	"InstanceNotFound":         ErrInstanceNotFound,
	"InvalidUUID":              ErrInvalidUUID,
	"InstanceExists":           ErrInstanceExists,
	"UnexpectedTaskStateError": ErrUnexpectedTaskState,
	"UnexpectedVMStateError":   ErrUnexpectedVMState,
	"MethodNotFound":           ErrMethodNotFound,
	"DBRetryable":              ErrDBTransient,
	"DBDeadlock":               ErrDBDeadlock,
	"DBDuplicateEntry":         ErrDBDuplicate,
	"DBFatal":                  ErrDBFatal,
}

var classBySentinel = func() map[error]string {
	out := make(map[error]string, len(classByClass))
	for class, sentinel := range classByClass {
		out[sentinel] = class
	}
	return out
}()

// RemoteError is what a Failure deserializes to when its Class is not one
// recognized by classByClass — e.g. it originated from a newer cell version.
type RemoteError struct {
	Module, Class, Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s.%s: %s", e.Module, e.Class, e.Detail)
}

// ClassOf returns the wire class name for err, walking its error chain, or
// "" if none of the known sentinels match.
func ClassOf(err error) string {
	for sentinel, class := range classBySentinel {
		if errors.Is(err, sentinel) {
			return class
		}
	}
	return ""
}

// FromWire reconstructs a typed error from a module/class/detail triple,
// falling back to *RemoteError for unknown classes.
func FromWire(mod, class, detail string) error {
	if sentinel, ok := classByClass[class]; ok {
		if detail == "" {
			return sentinel
		}
		return fmt.Errorf("%s: %w", detail, sentinel)
	}
	return &RemoteError{Module: mod, Class: class, Detail: detail}
}

// Module is the wire module name stamped on every Failure produced locally.
func Module() string { return module }
