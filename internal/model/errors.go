package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers match with
// errors.Is; UnknownNodeError and CorruptRecordError carry detail and
// unwrap to their sentinels.
var (
	ErrUnknownNode       = errors.New("unknown node")
	ErrStorageIO         = errors.New("storage io failure")
	ErrCorruptRecord     = errors.New("corrupt record")
	ErrRuntimeNotStarted = errors.New("async runtime not started")
	ErrRuntimeStopped    = errors.New("async runtime stopped")
	ErrQueueFull         = errors.New("ingress queue full")
	ErrMigrationConflict = errors.New("registry migration conflict")
	ErrConsolidateBusy   = errors.New("consolidation already in progress")
)

// UnknownNodeError reports a node ID absent from the innate registry,
// with the API role that rejected it.
type UnknownNodeError struct {
	Node NodeID
	Role string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node for %s: %d (node must be registered in innate registry)", e.Role, e.Node)
}

func (e *UnknownNodeError) Unwrap() error { return ErrUnknownNode }

// NewUnknownNode builds an UnknownNodeError for the given role.
func NewUnknownNode(node NodeID, role string) error {
	return &UnknownNodeError{Node: node, Role: role}
}

// CorruptRecordError reports a CRC mismatch at a byte offset in the delta
// log. Recovery truncates the log at Offset; the error is logged, not
// surfaced, unless truncation itself fails.
type CorruptRecordError struct {
	Offset int64
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt delta record at offset %d", e.Offset)
}

func (e *CorruptRecordError) Unwrap() error { return ErrCorruptRecord }
