package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceforward/domain/models"
	"faceforward/pkg/di"
)

func newResetCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "reset"}
	cmd.Flags().UintSlice("ids", nil, "")
	cmd.Flags().StringSlice("status", nil, "")
	cmd.Flags().String("path", "", "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestResetFilter(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cmd *cobra.Command)
	}{
		{name: "no filter", args: nil, wantErr: true},
		{name: "unknown status", args: []string{"--status", "done"}, wantErr: true},
		{
			name: "statuses and ids",
			args: []string{"--status", "error,stuck", "--ids", "4,7"},
			check: func(t *testing.T, cmd *cobra.Command) {
				f, err := resetFilter(cmd)
				require.NoError(t, err)
				assert.Equal(t, []models.PhotoStatus{models.PhotoStatusError, models.PhotoStatusStuck}, f.Statuses)
				assert.Equal(t, []uint{4, 7}, f.IDs)
			},
		},
		{
			name: "path only",
			args: []string{"--path", "DSC_01"},
			check: func(t *testing.T, cmd *cobra.Command) {
				f, err := resetFilter(cmd)
				require.NoError(t, err)
				assert.Equal(t, "DSC_01", f.PathContains)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newResetCmd(t, tt.args...)
			if tt.wantErr {
				_, err := resetFilter(cmd)
				assert.Error(t, err)
				return
			}
			tt.check(t, cmd)
		})
	}
}

func TestParsePhotoID(t *testing.T) {
	id, err := parsePhotoID("42")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		_, err := parsePhotoID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "watch", "work", "sync", "serve", "ingest", "reset", "reupload", "verify", "purge", "stats"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestServeUnits_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EVENT_ROOT", filepath.Join(root, "event"))
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(root, "faceforward.db"))
	t.Setenv("LOG_DIR", filepath.Join(root, "logs"))
	t.Setenv("CLOUD_BACKEND", "none")

	container := di.NewContainer("")
	require.NoError(t, container.Initialize())
	t.Cleanup(func() { container.Cleanup() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUnits(ctx, container, units{watch: true, work: true}) }()

	require.Eventually(t, func() bool {
		return container.IntakeWatcher.IsRunning() && container.FaceWorker.IsRunning()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveUnits did not return after cancel")
	}
}

func TestServeUnits_SyncWithoutBackend(t *testing.T) {
	root := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EVENT_ROOT", filepath.Join(root, "event"))
	t.Setenv("DB_PATH", filepath.Join(root, "faceforward.db"))
	t.Setenv("LOG_DIR", filepath.Join(root, "logs"))
	t.Setenv("CLOUD_BACKEND", "none")

	container := di.NewContainer("")
	require.NoError(t, container.Initialize())
	t.Cleanup(func() { container.Cleanup() })

	err := serveUnits(context.Background(), container, units{sync: true})
	assert.Error(t, err)
}
