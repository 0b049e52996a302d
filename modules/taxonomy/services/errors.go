package services

import (
	"fmt"
	"slices"
	"strings"
)

const (
	CodeInvalidRequest = "CE_INVALID_REQUEST"
	CodeInvalidDepth   = "CE_INVALID_DEPTH"
	CodeAmbiguousName  = "CE_AMBIGUOUS_NAME"
	CodeHasChildren    = "CE_HAS_CHILDREN"
	CodeRootImmutable  = "CE_ROOT_IMMUTABLE"
	CodeCycle          = "CE_CYCLE"
	CodeDepthOverflow  = "CE_DEPTH_OVERFLOW"
	CodePlanConflict   = "CE_PLAN_CONFLICT"
	CodeTokenRange     = "CE_TOKEN_RANGE"
	CodeSinkFailed     = "CE_SINK_FAILED"
)

// ServiceError is a request-level failure: the whole operation is refused.
type ServiceError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Cause: cause}
}

// NotFoundError is reported per item; the batch carrying it continues.
type NotFoundError struct {
	Kind       string
	Name       string
	Scope      string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Scope != "" {
		msg += " under " + e.Scope
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

// CollisionError means two nodes would end a batch with the same identifier.
// It is raised before any relabel is applied.
type CollisionError struct {
	Collisions map[string][]string
}

func (e *CollisionError) Error() string {
	parts := make([]string, 0, len(e.Collisions))
	for id, holders := range e.Collisions {
		parts = append(parts, fmt.Sprintf("%s <= [%s]", id, strings.Join(holders, ", ")))
	}
	slices.Sort(parts)
	return "identifier collision after rename batch: " + strings.Join(parts, "; ")
}

// Anomaly is a non-fatal finding attached to a plan or ledger.
type Anomaly struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

const (
	AnomalyNotFound        = "not_found"
	AnomalyUnlisted        = "unlisted"
	AnomalyDuplicateOrder  = "duplicate_in_order"
	AnomalyExists          = "already_exists"
	AnomalyAmbiguousID     = "ambiguous_id"
	AnomalyUnknownGroup    = "unknown_group"
	AnomalyLevelGap        = "level_gap"
	AnomalyDuplicateLeaf   = "duplicate_leaf"
	AnomalyDroppedTerminal = "dropped_terminal"
	AnomalyCollaborator    = "collaborator_failed"
	AnomalyUnreachable     = "unreachable"
)

func notFound(kind, name, scope, suggestion string) Anomaly {
	err := &NotFoundError{Kind: kind, Name: name, Scope: scope, Suggestion: suggestion}
	return Anomaly{Kind: AnomalyNotFound, Subject: name, Message: err.Error(), Err: err}
}

func (a Anomaly) Error() string {
	if a.Subject == "" {
		return a.Message
	}
	return a.Subject + ": " + a.Message
}
