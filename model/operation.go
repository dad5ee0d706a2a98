// Package model holds the value types that flow between the console, the command
// cache, the local mirror and the remote service.
package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind identifies a user-facing operation. Its string value is also the
// mirror endpoint name the operation writes to while offline.
type OperationKind string

const (
	CreateManufacturer         OperationKind = "createManufacturer"
	DeleteManufacturerByID     OperationKind = "deleteManufacturerById"
	AddModelByManufacturerID   OperationKind = "addModelByManufacturerId"
	ViewModelsByManufacturerID OperationKind = "viewModelsByManufacturerId"
	ListManufacturers          OperationKind = "listManufacturers"
)

// SnapshotEndpoint is the mirror endpoint holding the last manufacturer list seen online.
const SnapshotEndpoint = "manufacturers"

var arity = map[OperationKind]int{
	CreateManufacturer:         1,
	DeleteManufacturerByID:     1,
	AddModelByManufacturerID:   2,
	ViewModelsByManufacturerID: 1,
	ListManufacturers:          0,
}

// Operations returns every known operation in a stable order.
func Operations() []OperationKind {
	return []OperationKind{
		CreateManufacturer,
		ListManufacturers,
		DeleteManufacturerByID,
		ViewModelsByManufacturerID,
		AddModelByManufacturerID,
	}
}

// Valid reports whether k is a known operation.
func (k OperationKind) Valid() bool {
	_, ok := arity[k]
	return ok
}

// Arity is the number of arguments k expects.
func (k OperationKind) Arity() int {
	return arity[k]
}

// IsRead reports whether k only reads remote state.
func (k OperationKind) IsRead() bool {
	return k == ViewModelsByManufacturerID || k == ListManufacturers
}

// Endpoint is the mirror endpoint name for k.
func (k OperationKind) Endpoint() string {
	return string(k)
}

func (k OperationKind) String() string {
	return string(k)
}

// ValidateArgs checks args against the arity of k. Blank arguments are rejected.
func (k OperationKind) ValidateArgs(args []string) error {
	if !k.Valid() {
		return fmt.Errorf("unknown operation %q", string(k))
	}
	if len(args) != k.Arity() {
		return fmt.Errorf("%s expects %d argument(s), got %d", k, k.Arity(), len(args))
	}
	for i, a := range args {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("%s argument %d is empty", k, i+1)
		}
	}
	return nil
}

// Command is a queued operation description. It carries data only, so it can be
// written to disk and replayed by a later process.
type Command struct {
	ID            string        `json:"id" yaml:"id"`
	Operation     OperationKind `json:"operation" yaml:"operation"`
	Arguments     []string      `json:"arguments" yaml:"arguments"`
	PlaceholderID string        `json:"placeholderId,omitempty" yaml:"placeholderId,omitempty"`
	EnqueuedAt    time.Time     `json:"enqueuedAt" yaml:"enqueuedAt"`
	// Attempts counts replays that reached the remote service and failed.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Validate checks the command's operation and arguments.
func (c Command) Validate() error {
	return c.Operation.ValidateArgs(c.Arguments)
}

// Clone returns a copy whose Arguments slice is independent of c's.
func (c Command) Clone() Command {
	out := c
	out.Arguments = append([]string(nil), c.Arguments...)
	return out
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Operation, strings.Join(c.Arguments, ", "))
}
