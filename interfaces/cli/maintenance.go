package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"faceforward/domain/models"
	"faceforward/domain/repositories"
	"faceforward/domain/services"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scan the intake folder once and queue stable photos",
	Long: `Run one intake pass and exit.

A file must be seen unchanged for the configured stable window before it is
queued, so a file first seen by this pass is only counted as pending.`,
	RunE: runIngest,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Send photos back to pending so the workers process them again",
	Long: `Reset photos to pending. Face rows and derived fields are cleared; files
already routed stay where they are and are overwritten by the next pass.

At least one filter is required.

Examples:
  faceforward reset --status error,stuck
  faceforward reset --ids 12,13 --dry-run
  faceforward reset --path DSC_01`,
	RunE: runReset,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <photo-id>",
	Short: "Check that a photo's routed copies exist on disk",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <photo-id>",
	Short: "Delete a photo and its faces so its content can be ingested again",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show photo counts per status",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(statsCmd)

	ingestCmd.Flags().Bool("json", false, "Output as JSON")

	resetCmd.Flags().UintSlice("ids", nil, "Photo ids to reset")
	resetCmd.Flags().StringSlice("status", nil, "Statuses to reset (pending, processing, completed, no_faces, error, stuck)")
	resetCmd.Flags().String("path", "", "Reset photos whose original path contains this text")
	resetCmd.Flags().Bool("dry-run", false, "Only count matching photos")

	verifyCmd.Flags().Bool("json", false, "Output as JSON")

	purgeCmd.Flags().Bool("remove-files", false, "Also delete the processed copy, thumbnail and routed copies")

	statsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	ctx, cancel := signalContext()
	defer cancel()

	result, err := container.IntakeWatcher.ScanOnce(ctx)
	if err != nil {
		return fmt.Errorf("scan intake: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return printJSON(result)
	}
	fmt.Printf("Seen:       %d\n", result.Seen)
	fmt.Printf("Inserted:   %d\n", result.Inserted)
	fmt.Printf("Duplicates: %d\n", result.Duplicates)
	fmt.Printf("Failed:     %d\n", result.Failed)
	fmt.Printf("Waiting:    %d (not yet stable)\n", result.Pending)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	filter, err := resetFilter(cmd)
	if err != nil {
		return err
	}
	dryRun := mustGetBool(cmd, "dry-run")

	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	ctx, cancel := signalContext()
	defer cancel()

	n, err := container.Maintenance.ResetPhotos(ctx, filter, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("%d photo(s) would be reset to pending\n", n)
		return nil
	}
	fmt.Printf("Reset %d photo(s) to pending\n", n)
	return nil
}

func resetFilter(cmd *cobra.Command) (repositories.PhotoFilter, error) {
	filter := repositories.PhotoFilter{
		IDs:          mustGetUintSlice(cmd, "ids"),
		PathContains: mustGetString(cmd, "path"),
	}
	for _, raw := range mustGetStringSlice(cmd, "status") {
		status := models.PhotoStatus(raw)
		if !status.Valid() {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if filter.Empty() {
		return filter, errors.New("reset needs at least one of --ids, --status or --path")
	}
	return filter, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	id, err := parsePhotoID(args[0])
	if err != nil {
		return err
	}

	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	v, err := container.Maintenance.VerifyPhoto(cmd.Context(), id)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(v)
	}
	printVerification(v)
	if !v.Complete() {
		return fmt.Errorf("photo %d is missing routed files", id)
	}
	return nil
}

func printVerification(v *services.PhotoVerification) {
	fmt.Printf("Photo %d: %s (%s)\n", v.Photo.ID, v.Photo.FileName, v.Photo.Status)
	fmt.Printf("  Original:  %s\n", v.Photo.OriginalPath)
	fmt.Printf("  Persons:   %v\n", v.PersonIDs)
	fmt.Printf("  Processed: %s\n", okMark(v.ProcessedOK))
	fmt.Printf("  Thumbnail: %s\n", okMark(v.ThumbnailOK))
	fmt.Printf("  Faces:     %s\n", okMark(v.FaceRowsMatch))
	for _, d := range v.Destinations {
		fmt.Printf("  %s %s\n", okMark(v.Present[d]), d)
	}
}

func okMark(ok bool) string {
	if ok {
		return "ok"
	}
	return "MISSING"
}

func runPurge(cmd *cobra.Command, args []string) error {
	id, err := parsePhotoID(args[0])
	if err != nil {
		return err
	}

	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	if err := container.Maintenance.PurgePhoto(cmd.Context(), id, mustGetBool(cmd, "remove-files")); err != nil {
		return err
	}
	fmt.Printf("Purged photo %d\n", id)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	container, err := newContainer()
	if err != nil {
		return err
	}
	defer cleanup(container)

	stats, err := container.Maintenance.Stats(cmd.Context())
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(stats)
	}

	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	fmt.Printf("Photos:   %d\n", stats.Total)
	for _, s := range statuses {
		fmt.Printf("  %-11s %d\n", s+":", stats.ByStatus[models.PhotoStatus(s)])
	}
	fmt.Printf("Persons:  %d\n", stats.Persons)
	fmt.Printf("Mirrored: %d\n", stats.Mirrored)
	return nil
}

func parsePhotoID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid photo id %q", raw)
	}
	return uint(id), nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
