package cmd

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and prepare the face gallery",
}

var galleryBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the gallery the way a session would and report skipped employees",
	RunE:  runGalleryBuild,
}

var galleryEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Compute descriptors from reference images and store them",
	Long: `Compute face descriptors from every employee's reference images and store
them in the database, so sessions start without calling the face engine
for each reference image. Employees that already have stored descriptors
are skipped unless --force is given.`,
	RunE: runGalleryEnroll,
}

var galleryConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List descriptors of different employees that are dangerously close",
	RunE:  runGalleryConflicts,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryBuildCmd, galleryEnrollCmd, galleryConflictsCmd)

	for _, c := range []*cobra.Command{galleryBuildCmd, galleryEnrollCmd, galleryConflictsCmd} {
		c.Flags().Bool("json", false, "Output as JSON instead of progress bar")
		c.Flags().Int("concurrency", constants.DefaultConcurrency, "Reference images processed in parallel")
	}
	galleryEnrollCmd.Flags().Bool("force", false, "Recompute employees that already have descriptors")
	galleryConflictsCmd.Flags().Float64("threshold", 0, "Report pairs closer than this distance (default 1 - RECOGNITION_THRESHOLD)")
}

// attachProgress shows a progress bar over the roster unless JSON output
// is requested. The returned func finishes the bar.
func attachProgress(cmd *cobra.Command, b *gallery.Builder, description string) (func(), error) {
	if mustGetBool(cmd, "json") {
		return func() {}, nil
	}
	employees, err := b.Roster(cmd.Context())
	if err != nil {
		return nil, err
	}
	bar := newProgressBar(len(employees), description)
	b.OnProgress = func() { bar.Add(1) }
	return func() { finishBar(bar) }, nil
}

func finishBar(bar *progressbar.ProgressBar) {
	_ = bar.Finish()
	fmt.Println()
}

func printSkipped(skipped []gallery.SkippedEmployee) {
	if len(skipped) == 0 {
		return
	}
	fmt.Printf("\nSkipped employees (%d):\n", len(skipped))
	for _, s := range skipped {
		fmt.Printf("  %5d  %-24s %s\n", s.EmployeeID, s.Name, s.Reason)
	}
}

func runGalleryBuild(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.galleryBuilder(mustGetInt(cmd, "concurrency"))
	done, err := attachProgress(cmd, b, "Building gallery")
	if err != nil {
		return err
	}

	start := time.Now()
	g, report, err := b.Build(cmd.Context())
	done()
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(report)
	}

	fmt.Println("Gallery ready")
	fmt.Printf("  Identities:   %d of %d\n", g.Len(), report.Loaded)
	fmt.Printf("  Descriptors:  %d (%d stored, %d computed)\n", report.Descriptors, report.Precomputed, report.Computed)
	fmt.Printf("  Duration:     %s\n", formatDuration(time.Since(start)))
	printSkipped(report.Skipped)
	return nil
}

func runGalleryEnroll(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	b := a.galleryBuilder(mustGetInt(cmd, "concurrency"))
	done, err := attachProgress(cmd, b, "Enrolling")
	if err != nil {
		return err
	}

	report, err := b.Enroll(cmd.Context(), a.store, mustGetBool(cmd, "force"))
	done()
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(report)
	}

	fmt.Println("Enrollment complete!")
	fmt.Printf("  Enrolled:     %d employees\n", report.Enrolled)
	fmt.Printf("  Descriptors:  %d\n", report.Descriptors)
	fmt.Printf("  Unchanged:    %d\n", report.Unchanged)
	printSkipped(report.Skipped)
	return nil
}

func runGalleryConflicts(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = 1 - a.tunables.Get().RecognitionThreshold
	}

	b := a.galleryBuilder(mustGetInt(cmd, "concurrency"))
	done, err := attachProgress(cmd, b, "Building gallery")
	if err != nil {
		return err
	}
	g, _, err := b.Build(cmd.Context())
	done()
	if err != nil {
		return err
	}

	conflicts := gallery.FindConflicts(g, threshold)
	if mustGetBool(cmd, "json") {
		return outputJSON(conflicts)
	}

	if len(conflicts) == 0 {
		fmt.Printf("No conflicts below distance %.3f among %d identities\n", threshold, g.Len())
		return nil
	}
	fmt.Printf("%d conflicting pairs below distance %.3f:\n", len(conflicts), threshold)
	for _, c := range conflicts {
		fmt.Printf("  %.3f  %s (#%d) <-> %s (#%d)\n", c.Distance, c.A.Name, c.A.EmployeeID, c.B.Name, c.B.EmployeeID)
	}
	return nil
}
