package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/carsync/cache"
	"github.com/c0deZ3R0/carsync/internal/fakeremote"
	"github.com/c0deZ3R0/carsync/logging"
	"github.com/c0deZ3R0/carsync/mirror"
	"github.com/c0deZ3R0/carsync/reconcile"
	"github.com/c0deZ3R0/carsync/transport/httptransport"
)

func newConsoleEngine(t *testing.T) (*reconcile.Engine, *fakeremote.Server) {
	t.Helper()
	fake := fakeremote.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := logging.Discard().Logger
	gw := httptransport.New(srv.URL, httptransport.WithHTTPClient(srv.Client()), httptransport.WithLogger(logger))
	engine := reconcile.New(gw, cache.NewMemory(), mirror.New(t.TempDir(), mirror.WithLogger(logger)),
		reconcile.WithLogger(logger))
	return engine, fake
}

func runScript(t *testing.T, engine *reconcile.Engine, script string) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, NewConsole(engine, strings.NewReader(script), &out).Run(context.Background()))
	return out.String()
}

func TestConsole_HelpAndInvalid(t *testing.T) {
	engine, _ := newConsoleEngine(t)

	out := runScript(t, engine, "h\nx\nq\n")
	assert.Contains(t, out, "Available commands:")
	assert.Contains(t, out, "Invalid command. Type 'h' for help.")
	assert.Contains(t, out, "Exiting... Goodbye!")
}

func TestConsole_EndOfInput(t *testing.T) {
	engine, _ := newConsoleEngine(t)

	out := runScript(t, engine, "")
	assert.Equal(t, "Enter command (c / l / d / v / a / h / q): ", out)
}

func TestConsole_Operations(t *testing.T) {
	engine, fake := newConsoleEngine(t)
	id := fake.SeedManufacturer("Acme")
	fake.SeedModel(id, "Roadster")

	out := runScript(t, engine, "v\n"+id+"\na\n"+id+"\nCoupe\nd\n"+id+"\nl\nq\n")

	assert.Contains(t, out, "Roadster")
	assert.Contains(t, out, "Model added: Coupe")
	assert.Contains(t, out, "Manufacturer "+id+" deleted (2 models removed)")
	assert.Contains(t, out, "No manufacturers found.")
}

func TestConsole_ErrorsDoNotStopTheLoop(t *testing.T) {
	engine, _ := newConsoleEngine(t)

	out := runScript(t, engine, "c\n\nq\n")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "Exiting... Goodbye!")
}

func TestConsole_OfflineThenReplay(t *testing.T) {
	engine, fake := newConsoleEngine(t)

	fake.SetHealthy(false)
	out := runScript(t, engine, "c\nAcme\n")
	assert.Contains(t, out, "You are currently offline. Saving data locally...")
	assert.Empty(t, fake.ManufacturerNames())

	fake.SetHealthy(true)
	out = runScript(t, engine, "l\n")
	assert.Contains(t, out, "Server is online. Executed cached commands: replayed 1 command(s)")
	assert.Equal(t, []string{"Acme"}, fake.ManufacturerNames())
}
