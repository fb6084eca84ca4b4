package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Review and maintain attendance records",
}

var attendanceTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List today's check-ins",
	RunE:  runAttendanceToday,
}

var attendanceMarkAbsentCmd = &cobra.Command{
	Use:   "mark-absent",
	Short: "Record employees without a check-in as absent",
	Long: `Record an absent entry for every employee without attendance on the given
day. Safe to run more than once; serve runs it daily at ABSENCE_MARK_AT.`,
	RunE: runAttendanceMarkAbsent,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceTodayCmd, attendanceMarkAbsentCmd)

	attendanceTodayCmd.Flags().Bool("json", false, "Output as JSON")
	attendanceTodayCmd.Flags().String("date", "", "Day to list as YYYY-MM-DD (default today)")
	attendanceMarkAbsentCmd.Flags().String("date", "", "Day to mark as YYYY-MM-DD (default today)")
}

// parseDay reads the --date flag in loc, defaulting to now.
func parseDay(cmd *cobra.Command, loc *time.Location) (time.Time, error) {
	s := mustGetString(cmd, "date")
	if s == "" {
		return time.Now().In(loc), nil
	}
	day, err := time.ParseInLocation(database.DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", s)
	}
	return day, nil
}

func runAttendanceToday(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := parseDay(cmd, a.cfg.Location)
	if err != nil {
		return err
	}
	from, to := attendance.DayBounds(day, a.cfg.Location)
	records, err := a.recorder().Range(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(records)
	}

	if len(records) == 0 {
		fmt.Printf("No attendance on %s\n", from.Format(database.DayLayout))
		return nil
	}
	fmt.Printf("Attendance on %s (%d):\n", from.Format(database.DayLayout), len(records))
	for _, rec := range records {
		line := fmt.Sprintf("  %s  %-24s %-7s", rec.CheckedAt.In(a.cfg.Location).Format("15:04:05"), rec.EmployeeName, rec.Status)
		if rec.Lateness != "" {
			line += "  " + rec.Lateness + " late"
		}
		fmt.Println(line)
	}
	return nil
}

func runAttendanceMarkAbsent(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := parseDay(cmd, a.cfg.Location)
	if err != nil {
		return err
	}
	marked, err := attendance.NewAbsenceMarker(a.store, a.cfg.Location).MarkDay(cmd.Context(), day)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d employees absent on %s\n", marked, day.Format(database.DayLayout))
	return nil
}
