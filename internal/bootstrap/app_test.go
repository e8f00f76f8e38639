package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"walletd/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "walletd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadConfig_PreFlight(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, dir, "app:\n  database_path: "+filepath.Join(dir, "walletd.db")+"\n", 0o644)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "walletd.db"), cfg.App.DatabasePath)
	})

	t.Run("missing database directory", func(t *testing.T) {
		path := writeConfig(t, dir, "app:\n  database_path: "+filepath.Join(dir, "nope", "walletd.db")+"\n", 0o644)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app.database_path")
	})

	t.Run("secrets in world-readable file", func(t *testing.T) {
		body := "app:\n  database_path: " + filepath.Join(dir, "walletd.db") + "\nwallet:\n  bridge_token: s3cret\n"
		path := writeConfig(t, dir, body, 0o644)
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure permissions")

		require.NoError(t, os.Chmod(path, 0o600))
		_, err = LoadConfig(path)
		assert.NoError(t, err)
	})
}

func TestRunContext(t *testing.T) {
	app := &App{Logger: logging.NewNopLogger()}

	t.Run("cancel stops every runner", func(t *testing.T) {
		var stopped atomic.Int32
		runner := RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Add(1)
			return ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- app.RunContext(ctx, runner, runner) }()

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("runners did not stop")
		}
		assert.Equal(t, int32(2), stopped.Load())
	})

	t.Run("first failure cancels the rest", func(t *testing.T) {
		boom := errors.New("listen tcp: address already in use")
		failing := RunnerFunc(func(context.Context) error { return boom })
		waiting := RunnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})

		err := app.RunContext(context.Background(), waiting, failing)
		assert.ErrorIs(t, err, boom)
	})
}
