package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/carsync/internal/fakeremote"
	"github.com/c0deZ3R0/carsync/mirror"
	"github.com/c0deZ3R0/carsync/model"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "carsync", cmd.Use)
	assert.Contains(t, cmd.Long, "replayed in order")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"sync", "queue", "mirror"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "Command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.DefValue)

	envFile := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, envFile)
	assert.Equal(t, ".env", envFile.DefValue)
}

// testEnv points the config layer at a fake remote and temp storage.
type testEnv struct {
	fake      *fakeremote.Server
	mirrorDir string
	dsn       string
}

func newTestEnv(t *testing.T, driver string) *testEnv {
	t.Helper()
	fake := fakeremote.New()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &testEnv{
		fake:      fake,
		mirrorDir: filepath.Join(dir, "offline_data"),
		dsn:       filepath.Join(dir, "queue.db"),
	}
	t.Setenv("CARSYNC_REMOTE__BASE_URL", srv.URL)
	t.Setenv("CARSYNC_REMOTE__PROBE_TIMEOUT", "500ms")
	t.Setenv("CARSYNC_MIRROR__DIR", env.mirrorDir)
	t.Setenv("CARSYNC_QUEUE__DRIVER", driver)
	t.Setenv("CARSYNC_QUEUE__DSN", env.dsn)
	t.Setenv("CARSYNC_LOG__LEVEL", "error")
	return env
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExecute_ConsoleOnline(t *testing.T) {
	env := newTestEnv(t, "memory")

	out, err := execute(t, "c\nAcme\nl\nq\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Manufacturer created: Acme")
	assert.Contains(t, out, "Exiting... Goodbye!")
	assert.Equal(t, []string{"Acme"}, env.fake.ManufacturerNames())
}

func TestExecute_OfflineThenSync(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	env.fake.SetHealthy(false)

	out, err := execute(t, "c\nAcme\nq\n")
	require.NoError(t, err)
	assert.Contains(t, out, "You are currently offline")

	out, err = execute(t, "", "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending commands: 1")
	assert.Contains(t, out, "createManufacturer(Acme)")

	out, err = execute(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Remote service is unreachable; 1 command(s) remain queued.")

	env.fake.SetHealthy(true)
	out, err = execute(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 1 command(s): 1 succeeded")
	assert.Equal(t, []string{"Acme"}, env.fake.ManufacturerNames())

	out, err = execute(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to sync.")
}

func TestExecute_Mirror(t *testing.T) {
	env := newTestEnv(t, "memory")
	store := mirror.New(env.mirrorDir)
	require.NoError(t, store.Write(context.Background(), model.CreateManufacturer.Endpoint(),
		model.Manufacturer{ID: "m-1", Name: "Acme"}))

	out, err := execute(t, "", "mirror", "--format", "text")
	require.NoError(t, err)
	assert.Equal(t, "createManufacturer\n", out)

	out, err = execute(t, "", "mirror", "createManufacturer", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: Acme")
	assert.Contains(t, out, "id: m-1")

	out, err = execute(t, "", "mirror", "createManufacturer")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Acme"`)

	_, err = execute(t, "", "mirror", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")

	_, err = execute(t, "", "mirror", "createManufacturers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown endpoint "createManufacturers"`)
}

func TestExecute_QueueJSON(t *testing.T) {
	newTestEnv(t, "sqlite")

	out, err := execute(t, "", "queue", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"policy": "requeue"`)
	assert.Contains(t, out, `"maxAttempts": 5`)
	assert.Contains(t, out, `"pending": 0`)
	assert.Contains(t, out, `"commands": []`)
	assert.Contains(t, out, `"deadLetters": []`)
}

func TestExecute_QueueShowsPolicy(t *testing.T) {
	newTestEnv(t, "memory")
	t.Setenv("CARSYNC_REPLAY__FAILURE_POLICY", "dead_letter")
	t.Setenv("CARSYNC_REPLAY__MAX_ATTEMPTS", "3")

	out, err := execute(t, "", "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Failure policy: dead_letter (max attempts 3)")
}

func TestExecute_BadConfig(t *testing.T) {
	newTestEnv(t, "memory")
	t.Setenv("CARSYNC_REPLAY__FAILURE_POLICY", "drop")

	_, err := execute(t, "", "queue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_policy")
}
