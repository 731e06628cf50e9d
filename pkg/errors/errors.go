/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors defines the structured error kinds that cross component
// boundaries. Callers branch on kind through the Is* helpers rather than on
// message text.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStale signals an optimistic lock conflict; losers do not retry
	// automatically.
	ErrStale = errors.New("stale")
	// ErrNoAvailableWork signals an empty eligible set; callers back off.
	ErrNoAvailableWork = errors.New("no_available_work")
	// ErrSchemaFrozen signals a mutation attempt on a frozen schema version.
	ErrSchemaFrozen = errors.New("schema_frozen")
	// ErrProviderUnavailable signals an open sample provider breaker with no
	// cached fallback.
	ErrProviderUnavailable = errors.New("provider_unavailable")
	// ErrInsufficientLabels signals an agreement computation with fewer than
	// two raters; treated as a non-error result by callers.
	ErrInsufficientLabels = errors.New("insufficient_labels")
)

// NotFoundError wraps an unknown-id lookup.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// ForbiddenError carries the machine-readable reason an operation was
// refused. Forbidden operations are audit-logged by the caller.
type ForbiddenError struct {
	Reason string
}

func NewForbidden(reason string) *ForbiddenError {
	return &ForbiddenError{Reason: reason}
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// ForbiddenReason extracts the reason from a forbidden error, or "".
func ForbiddenReason(err error) string {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// Well-known forbidden reasons.
const (
	ReasonTenantMismatch        = "tenant_mismatch"
	ReasonBlocked               = "blocked"
	ReasonMaxConcurrentExceeded = "max_concurrent_exceeded"
	ReasonNotMember             = "not_member"
	ReasonRole                  = "insufficient_role"
	ReasonNotAssignee           = "not_assignee"
)

// InvalidTransitionError reports an assignment lifecycle edge outside the
// allowed set.
type InvalidTransitionError struct {
	From string
	To   string
}

func NewInvalidTransition(from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// FieldError is one per-field schema validation failure.
type FieldError struct {
	Field    string `json:"field"`
	Err      string `json:"error"`
	Provided string `json:"provided,omitempty"`
}

// ValidationError aggregates the ordered per-field failures of a payload.
type ValidationError struct {
	Fields []FieldError
}

func NewValidation(fields []FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Field, f.Err))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidationFields extracts the per-field failures, or nil.
func ValidationFields(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// StorageError wraps a durable-store failure; the enclosing transaction has
// rolled back fully.
type StorageError struct {
	Op  string
	Err error
}

func NewStorage(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s, %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func IsStale(err error) bool               { return errors.Is(err, ErrStale) }
func IsNoAvailableWork(err error) bool     { return errors.Is(err, ErrNoAvailableWork) }
func IsSchemaFrozen(err error) bool        { return errors.Is(err, ErrSchemaFrozen) }
func IsProviderUnavailable(err error) bool { return errors.Is(err, ErrProviderUnavailable) }
func IsInsufficientLabels(err error) bool  { return errors.Is(err, ErrInsufficientLabels) }
