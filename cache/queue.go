// Package cache holds commands that could not reach the remote service so they can be
// replayed, in order, once connectivity returns.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/model"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("command queue is closed")

// Queue is an unbounded FIFO of pending commands. It never deduplicates.
type Queue interface {
	// Enqueue validates cmd and appends it to the tail.
	Enqueue(ctx context.Context, cmd model.Command) error

	// Drain atomically empties the queue and returns its prior contents in
	// enqueue order. An empty queue yields an empty, non-nil slice.
	Drain(ctx context.Context) ([]model.Command, error)

	// Size reports the number of pending commands.
	Size(ctx context.Context) (int, error)

	Close() error
}

// Peeker is implemented by queues that can list pending commands without draining them.
type Peeker interface {
	Peek(ctx context.Context, limit int) ([]model.Command, error)
}

// DeadLetter is a replayed command that failed and was set aside.
type DeadLetter struct {
	Command    model.Command `json:"command" yaml:"command"`
	Reason     string        `json:"reason" yaml:"reason"`
	RecordedAt time.Time     `json:"recordedAt" yaml:"recordedAt"`
}

// DeadLetters stores commands that replay gave up on.
type DeadLetters interface {
	Record(ctx context.Context, cmd model.Command, reason string) error
	List(ctx context.Context) ([]DeadLetter, error)
}

// Memory is the in-process Queue. The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	items  []model.Command
	closed bool
}

var (
	_ Queue  = (*Memory)(nil)
	_ Peeker = (*Memory)(nil)
)

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(ctx context.Context, cmd model.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cmd.Validate(); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpEnqueue, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items = append(m.items, cmd.Clone())
	return nil
}

func (m *Memory) Drain(ctx context.Context) ([]model.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := m.items
	if out == nil {
		out = []model.Command{}
	}
	m.items = nil
	return out, nil
}

func (m *Memory) Size(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.items), nil
}

// Peek returns up to limit pending commands without removing them. A limit <= 0
// returns every command.
func (m *Memory) Peek(ctx context.Context, limit int) ([]model.Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	n := len(m.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Command, 0, n)
	for _, c := range m.items[:n] {
		out = append(out, c.Clone())
	}
	return out, nil
}

// Close discards pending commands. Subsequent calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	return nil
}

// MemoryDeadLetters keeps dead letters in process memory.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
	now     func() time.Time
}

var _ DeadLetters = (*MemoryDeadLetters)(nil)

func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{now: time.Now}
}

func (d *MemoryDeadLetters) Record(ctx context.Context, cmd model.Command, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	d.letters = append(d.letters, DeadLetter{Command: cmd.Clone(), Reason: reason, RecordedAt: now().UTC()})
	return nil
}

// List returns a copy of the recorded dead letters, oldest first.
func (d *MemoryDeadLetters) List(ctx context.Context) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetter, len(d.letters))
	copy(out, d.letters)
	return out, nil
}
