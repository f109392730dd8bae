package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"faceforward/domain/models"
	"faceforward/domain/services"
)

var errNoBackend = errors.New("cloud backend is \"none\"; set CLOUD_BACKEND to gdrive or minio")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror routed photos to the cloud backend",
	Long: `Mirror People/ and NoMatch/ to the configured cloud backend.

Without --once the command keeps running: it syncs the backlog on start, on
the configured cron and interval, until interrupted.

Examples:
  faceforward sync
  faceforward sync --once
  faceforward sync --once --json`,
	RunE: runSync,
}

var reuploadCmd = &cobra.Command{
	Use:   "reupload",
	Short: "Wipe the remote root and upload the whole mirror tree again",
	Long: `Trash everything under the remote root and upload every mirrored file again.

Items the account may not trash are handled gracefully: folders are emptied
and kept, files are skipped. Use --dry-run to count what would happen.

Examples:
  faceforward reupload --dry-run
  faceforward reupload`,
	RunE: runReupload,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reuploadCmd)

	syncCmd.Flags().Bool("once", false, "Run one backlog pass and exit")
	syncCmd.Flags().Bool("json", false, "Output the run as JSON (with --once)")

	reuploadCmd.Flags().Bool("dry-run", false, "Count items without trashing or uploading")
	reuploadCmd.Flags().Bool("json", false, "Output the run as JSON")
}

func runSync(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "once") {
		return runUnits(units{sync: true})
	}
	jsonOutput := mustGetBool(cmd, "json")

	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)
	if container.CloudSync == nil {
		return errNoBackend
	}

	ctx, cancel := signalContext()
	defer cancel()

	var progress func(done, total int)
	finish := func() {}
	if !jsonOutput {
		progress, finish = progressFunc("Syncing backlog", "files")
	}
	run, err := container.CloudSync.SyncBacklog(ctx, progress)
	finish()
	if err != nil {
		return fmt.Errorf("sync backlog: %w", err)
	}
	return printRun(run, jsonOutput)
}

func runReupload(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)
	if container.CloudSync == nil {
		return errNoBackend
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts := services.ReconcileOptions{DryRun: dryRun}
	finish := func() {}
	if !jsonOutput && !dryRun {
		opts.Progress, finish = progressFunc("Re-uploading", "files")
	}
	run, err := container.CloudSync.Reconcile(ctx, opts)
	finish()
	if err != nil {
		return fmt.Errorf("reupload: %w", err)
	}
	return printRun(run, jsonOutput)
}

func printRun(run *models.SyncRun, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(run)
	}

	fmt.Println()
	if run.DryRun {
		fmt.Println("Dry run, nothing was changed.")
	}
	fmt.Printf("Run %s (%s): %s\n", run.ID, run.Kind, run.Status)
	fmt.Printf("  Uploaded: %d\n", run.Uploaded)
	fmt.Printf("  Skipped:  %d\n", run.Skipped)
	fmt.Printf("  Failed:   %d\n", run.Failed)
	if run.Kind == models.SyncRunKindReconcile {
		fmt.Printf("  Trashed:  %d\n", run.Trashed)
		fmt.Printf("  Kept:     %d\n", run.Kept)
	}
	if run.LastError != "" {
		fmt.Printf("  Error:    %s\n", run.LastError)
	}
	return nil
}
