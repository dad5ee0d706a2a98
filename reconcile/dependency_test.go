package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/carsync/cache"
	syncErrors "github.com/c0deZ3R0/carsync/errors"
	"github.com/c0deZ3R0/carsync/internal/fakeremote"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/mirror"
	"github.com/c0deZ3R0/carsync/model"
	"github.com/c0deZ3R0/carsync/transport/httptransport"
)

func failCreates(op model.OperationKind, _ []string) error {
	if op == model.CreateManufacturer {
		return remoteFailure(500)
	}
	return nil
}

func TestReplayHoldsBackCommandsOnFailedCreate(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw)
	ctx := context.Background()

	created, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	placeholder := created.Payload.(model.Manufacturer).ID
	_, err = h.engine.AddModelByManufacturerID(ctx, placeholder, "Roadster")
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = failCreates

	report, err := h.engine.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 2, report.Requeued)
	assert.False(t, report.Clean())

	require.Len(t, report.Outcomes, 2)
	held := report.Outcomes[1]
	assert.True(t, held.Deferred)
	assert.True(t, held.Requeued)
	assert.ErrorIs(t, held.Err, ErrPendingDependency)

	require.Len(t, gw.recorded(), 1, "the model must not be sent before its manufacturer exists")

	cmds, err := h.queue.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, model.CreateManufacturer, cmds[0].Operation)
	assert.Equal(t, 1, cmds[0].Attempts)
	assert.Equal(t, []string{placeholder, "Roadster"}, cmds[1].Arguments)
	assert.Equal(t, 0, cmds[1].Attempts)

	gw.fail = nil
	report, err = h.engine.Replay(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())

	calls := gw.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, call{model.CreateManufacturer, []string{"Acme"}}, calls[1])
	assert.Equal(t, call{model.AddModelByManufacturerID, []string{"srv-1", "Roadster"}}, calls[2])
	assert.Equal(t, 0, h.pending(t))
}

func TestOnlineOperationOnOfflinePlaceholderReplaysFirst(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw)
	ctx := context.Background()

	created, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	placeholder := created.Payload.(model.Manufacturer).ID

	gw.setOnline(true)
	res, err := h.engine.AddModelByManufacturerID(ctx, placeholder, "Roadster")
	require.NoError(t, err)
	assert.True(t, res.Online)
	assert.Equal(t, model.CarModel{ID: "srv-2", Name: "Roadster", ManufacturerID: "srv-1"}, res.Payload)
	require.NotNil(t, res.Replay)
	assert.Equal(t, 1, res.Replay.Succeeded)

	assert.Equal(t, []call{
		{model.CreateManufacturer, []string{"Acme"}},
		{model.AddModelByManufacturerID, []string{"srv-1", "Roadster"}},
	}, gw.recorded())
	assert.Equal(t, 0, h.pending(t))
}

func TestOnlineOperationOnPendingPlaceholderIsCaptured(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw)
	ctx := context.Background()

	created, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	placeholder := created.Payload.(model.Manufacturer).ID

	gw.setOnline(true)
	gw.fail = failCreates

	res, err := h.engine.AddModelByManufacturerID(ctx, placeholder, "Roadster")
	require.NoError(t, err)
	assert.False(t, res.Online)
	require.NotNil(t, res.Replay)
	assert.Equal(t, 1, res.Replay.Failed)
	assert.Len(t, gw.recorded(), 1)

	cmds, err := h.queue.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, model.CreateManufacturer, cmds[0].Operation)
	assert.Equal(t, model.AddModelByManufacturerID, cmds[1].Operation)
}

func TestDeadLetteredCreateAbandonsDependents(t *testing.T) {
	gw := &stubGateway{}
	dl := cache.NewMemoryDeadLetters()
	h := newHarness(t, gw, WithFailurePolicy(PolicyDeadLetter), WithDeadLetters(dl))
	ctx := context.Background()

	created, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	placeholder := created.Payload.(model.Manufacturer).ID
	_, err = h.engine.AddModelByManufacturerID(ctx, placeholder, "Roadster")
	require.NoError(t, err)
	_, err = h.engine.DeleteManufacturerByID(ctx, placeholder)
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = failCreates

	report, err := h.engine.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 3, report.DeadLettered)
	assert.Equal(t, 0, report.Requeued)
	assert.ErrorIs(t, report.Outcomes[2].Err, ErrAbandonedDependency)
	assert.Len(t, gw.recorded(), 1)
	assert.Equal(t, 0, h.pending(t))

	letters, err := dl.List(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 3)
	assert.Contains(t, letters[0].Reason, "500")
	assert.Contains(t, letters[1].Reason, ErrAbandonedDependency.Error())

	items, err := h.mirror.Read(ctx, model.CreateManufacturer.Endpoint())
	require.NoError(t, err)
	assert.Len(t, items, 1, "a pass that dead-lettered anything keeps the offline record")

	_, err = h.engine.AddModelByManufacturerID(ctx, placeholder, "Coupe")
	require.Error(t, err)
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeValidation))
	assert.ErrorIs(t, err, ErrAbandonedDependency)

	gw.setOnline(false)
	_, err = h.engine.ViewModelsByManufacturerID(ctx, placeholder)
	assert.ErrorIs(t, err, ErrAbandonedDependency)
	assert.Equal(t, 0, h.pending(t))
}

func TestRejectedCommandIsDeadLetteredAfterMaxAttempts(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw, WithMaxAttempts(2))
	ctx := context.Background()

	_, err := h.engine.DeleteManufacturerByID(ctx, "42")
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = func(model.OperationKind, []string) error { return remoteFailure(500) }

	report, err := h.engine.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, 0, report.DeadLettered)

	report, err = h.engine.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Requeued)
	assert.Equal(t, 1, report.DeadLettered)
	assert.False(t, report.Clean())
	assert.Equal(t, 0, h.pending(t))

	letters, err := h.engine.DeadLetters().List(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Command.Attempts)
	assert.Contains(t, letters[0].Reason, "gave up after 2 attempts")
}

func TestConnectivityFailuresDoNotCountAsAttempts(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw, WithMaxAttempts(1))
	ctx := context.Background()

	_, err := h.engine.DeleteManufacturerByID(ctx, "42")
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = func(model.OperationKind, []string) error { return connectivityFailure() }
	for i := 0; i < 3; i++ {
		_, err := h.engine.Replay(ctx)
		require.NoError(t, err)
	}

	cmds, err := h.queue.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, 0, cmds[0].Attempts)
}

func TestUnlimitedAttemptsKeepRequeueing(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw, WithMaxAttempts(0))
	ctx := context.Background()

	_, err := h.engine.DeleteManufacturerByID(ctx, "42")
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = func(model.OperationKind, []string) error { return remoteFailure(500) }
	for i := 0; i < DefaultMaxAttempts+1; i++ {
		_, err := h.engine.Replay(ctx)
		require.NoError(t, err)
	}

	cmds, err := h.queue.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, DefaultMaxAttempts+1, cmds[0].Attempts)
	assert.Equal(t, 0, h.engine.MaxAttempts())
}

func TestFailedCreateKeepsModelOffServer(t *testing.T) {
	fake := fakeremote.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := logging.Discard().Logger
	gw := httptransport.New(srv.URL, httptransport.WithHTTPClient(srv.Client()), httptransport.WithLogger(logger))
	t.Cleanup(gw.Close)
	q := cache.NewMemory()
	e := New(gw, q, mirror.New(filepath.Join(t.TempDir(), "offline_data"), mirror.WithLogger(logger)),
		WithLogger(logger))
	t.Cleanup(func() { e.Close() })
	ctx := context.Background()

	fake.SetHealthy(false)
	created, err := e.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	require.False(t, created.Online)
	_, err = e.AddModelByManufacturerID(ctx, created.Payload.(model.Manufacturer).ID, "Roadster")
	require.NoError(t, err)

	fake.SetHealthy(true)
	fake.FailOn(http.MethodPost, "/manufacturers", http.StatusInternalServerError)
	res, err := e.ListManufacturers(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Replay)
	assert.Equal(t, 1, res.Replay.Deferred)

	for _, r := range fake.Requests() {
		assert.NotEqual(t, "POST /models", r.String())
	}
	pending, err := e.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	fake.ClearFailures()
	res, err = e.ListManufacturers(ctx)
	require.NoError(t, err)
	require.True(t, res.Replay.Clean())

	var serverID string
	for _, o := range res.Replay.Outcomes {
		if m, ok := o.Payload.(model.Manufacturer); ok {
			serverID = m.ID
		}
	}
	require.NotEmpty(t, serverID)
	assert.Equal(t, []string{"Acme"}, fake.ManufacturerNames())
	assert.Equal(t, []string{"Roadster"}, fake.ModelsOf(serverID))
}

func TestPendingDependencyIsReplayError(t *testing.T) {
	gw := &stubGateway{}
	h := newHarness(t, gw)
	ctx := context.Background()

	created, err := h.engine.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	_, err = h.engine.ViewModelsByManufacturerID(ctx, created.Payload.(model.Manufacturer).ID)
	require.NoError(t, err)

	gw.setOnline(true)
	gw.fail = failCreates
	report, err := h.engine.Replay(ctx)
	require.NoError(t, err)

	held := report.Outcomes[1]
	assert.True(t, syncErrors.HasCode(held.Err, syncErrors.ErrCodeReplay))
	assert.False(t, errors.Is(held.Err, ErrAbandonedDependency))
}
