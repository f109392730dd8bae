package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"faceforward/interfaces/api"
	"faceforward/pkg/di"
	"faceforward/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// units selects which long-running parts a process hosts.
type units struct {
	watch bool
	work  bool
	sync  bool
	serve bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watcher, face workers, cloud sync and admin API in one process",
	Long: `Run every unit in one process until interrupted.

The same units can be split across processes sharing one database:
  faceforward watch   # intake only
  faceforward work    # face workers only (start as many as you like)
  faceforward sync    # cloud mirror only
  faceforward serve   # admin API only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUnits(units{watch: true, work: true, sync: true, serve: true})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the intake folder and queue new photos",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUnits(units{watch: true})
	},
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Claim pending photos and run face detection and routing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUnits(units{work: true})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API, health checks and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUnits(units{serve: true})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(serveCmd)
}

func runUnits(u units) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	ctx, cancel := signalContext()
	defer cancel()

	return serveUnits(ctx, container, u)
}

// serveUnits starts the selected units and blocks until ctx is cancelled or
// one of them fails. Units are stopped by the caller's Cleanup.
func serveUnits(ctx context.Context, container *di.Container, u units) error {
	if u.sync && container.CloudSyncWorker == nil {
		if !u.work {
			return errors.New("cloud backend is \"none\", nothing to sync")
		}
		logger.StartupWarn("cloud_disabled", "Cloud backend disabled, running without mirror", nil)
	}

	g, gctx := errgroup.WithContext(ctx)

	if u.watch {
		if err := container.IntakeWatcher.Start(); err != nil {
			return fmt.Errorf("start intake watcher: %w", err)
		}
	}
	if u.work {
		container.FaceWorker.Start()
	}
	if u.sync && container.CloudSyncWorker != nil {
		container.CloudSyncWorker.Start()
	}

	// Only processes running face workers sweep orphans; the others still
	// refresh the status gauge and own the cloud cron.
	if u.work || u.serve || u.sync {
		if err := container.StartScheduler(u.work, u.sync); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if u.serve {
		app := api.NewApp(container.Handlers(), container.Config)
		port := container.Config.Server.Port

		g.Go(func() error {
			logger.Startup("server_starting", "Server starting", map[string]interface{}{
				"port":        port,
				"environment": container.Config.App.Env,
				"health":      fmt.Sprintf("http://localhost:%s/health", port),
				"admin":       fmt.Sprintf("http://localhost:%s/api/v1/admin", port),
				"metrics":     fmt.Sprintf("http://localhost:%s/metrics", port),
			})
			if err := app.Listen(":" + port); err != nil {
				return fmt.Errorf("listen on :%s: %w", port, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return app.ShutdownWithTimeout(shutdownTimeout)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	logger.Startup("shutdown_complete", "Units stopped", nil)
	return err
}
