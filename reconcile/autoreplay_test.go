package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c0deZ3R0/carsync/model"
)

type recordingMetrics struct {
	mu      sync.Mutex
	ops     []model.OperationKind
	online  []bool
	replays []*ReplayReport
	errors  []string
}

func (m *recordingMetrics) RecordOperation(op model.OperationKind, online bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	m.online = append(m.online, online)
}

func (m *recordingMetrics) RecordReplay(report *ReplayReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replays = append(m.replays, report)
}

func (m *recordingMetrics) RecordError(op model.OperationKind, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, string(op)+":"+code)
}

func TestAutoReplay_FlushesWhenOnline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gw := &stubGateway{}
	h := newHarness(t, gw)
	ctx := context.Background()

	_, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)

	reports := make(chan *ReplayReport, 4)
	require.NoError(t, h.engine.Subscribe(func(r *ReplayReport) { reports <- r }))
	require.NoError(t, h.engine.StartAutoReplay(ctx, 10*time.Millisecond))

	// offline ticks leave the queue alone
	time.Sleep(50 * time.Millisecond)
	pending, err := h.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	gw.setOnline(true)
	select {
	case r := <-reports:
		assert.Equal(t, 1, r.Succeeded)
		assert.True(t, r.Clean())
	case <-time.After(2 * time.Second):
		t.Fatal("background replay did not run")
	}

	pending, err = h.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	require.NoError(t, h.engine.StopAutoReplay())
}

func TestAutoReplay_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, &stubGateway{})
	ctx := context.Background()

	assert.Error(t, h.engine.StartAutoReplay(ctx, 0))
	assert.ErrorIs(t, h.engine.StopAutoReplay(), ErrAutoReplayStopped)

	require.NoError(t, h.engine.StartAutoReplay(ctx, time.Hour))
	assert.ErrorIs(t, h.engine.StartAutoReplay(ctx, time.Hour), ErrAutoReplayRunning)

	require.NoError(t, h.engine.Close())
	assert.ErrorIs(t, h.engine.StopAutoReplay(), ErrAutoReplayStopped)
	assert.ErrorIs(t, h.engine.StartAutoReplay(ctx, time.Hour), ErrEngineClosed)
	assert.ErrorIs(t, h.engine.Subscribe(func(*ReplayReport) {}), ErrEngineClosed)
}

func TestAutoReplay_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, &stubGateway{})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.engine.StartAutoReplay(ctx, time.Millisecond))
	cancel()
	require.NoError(t, h.engine.StopAutoReplay())
}

func TestAutoReplay_SubscriberPanicIsContained(t *testing.T) {
	h := newHarness(t, &stubGateway{online: true})

	var got int
	require.NoError(t, h.engine.Subscribe(func(*ReplayReport) { panic("boom") }))
	require.NoError(t, h.engine.Subscribe(func(*ReplayReport) { got++ }))

	h.engine.notifySubscribers(&ReplayReport{})
	assert.Equal(t, 1, got)
}

func TestMetrics(t *testing.T) {
	gw := &stubGateway{}
	m := &recordingMetrics{}
	h := newHarness(t, gw, WithMetrics(m))
	ctx := context.Background()

	_, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)

	_, err = h.engine.CreateManufacturer(ctx, "")
	require.Error(t, err)

	gw.setOnline(true)
	_, err = h.engine.ListManufacturers(ctx)
	require.NoError(t, err)

	assert.Equal(t, []model.OperationKind{model.CreateManufacturer, model.ListManufacturers}, m.ops)
	assert.Equal(t, []bool{false, true}, m.online)
	assert.Equal(t, []string{"createManufacturer:VALIDATION"}, m.errors)
	require.Len(t, m.replays, 1)
	assert.Equal(t, 1, m.replays[0].Succeeded)
}
