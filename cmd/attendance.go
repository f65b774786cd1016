package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/export"
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Mark and review attendance",
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <image>",
	Short: "Mark students recognized in a classroom photo as present",
	Long: `Detect faces in a classroom photo, match them against enrolled students
and record everyone recognized as present for the date.

Examples:
  rollcall attendance mark class.jpg --teacher novak
  rollcall attendance mark class.jpg --teacher novak --date 2024-03-04`,
	Args: cobra.ExactArgs(1),
	RunE: runAttendanceMark,
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance records",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceList,
}

var attendanceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attendance records to a spreadsheet",
	Long: `Export attendance records to an XLSX workbook. Without --output the file
is named after the selected date range.`,
	Args: cobra.NoArgs,
	RunE: runAttendanceExport,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd, attendanceListCmd, attendanceExportCmd)

	attendanceMarkCmd.Flags().String("date", "", "Ledger date YYYY-MM-DD (default today)")
	attendanceMarkCmd.Flags().String("teacher", "", "Teacher recorded as the marker")
	attendanceMarkCmd.Flags().Bool("json", false, "Output as JSON")
	_ = attendanceMarkCmd.MarkFlagRequired("teacher")

	for _, c := range []*cobra.Command{attendanceListCmd, attendanceExportCmd} {
		c.Flags().String("date", "", "Only records for this date")
		c.Flags().String("from", "", "Only records on or after this date")
		c.Flags().String("to", "", "Only records on or before this date")
		c.Flags().String("roll", "", "Only records for this roll number")
		c.Flags().String("class", "", "Only records for this class")
	}
	attendanceListCmd.Flags().Bool("json", false, "Output as JSON")
	attendanceExportCmd.Flags().String("output", "", "Output file path")
}

// validateDate accepts an empty string or a YYYY-MM-DD date.
func validateDate(flag, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(database.DateLayout, value); err != nil {
		return fmt.Errorf("invalid --%s %q, expected YYYY-MM-DD", flag, value)
	}
	return nil
}

func filterFromFlags(cmd *cobra.Command) (database.AttendanceFilter, error) {
	filter := database.AttendanceFilter{
		Date:  mustGetString(cmd, "date"),
		From:  mustGetString(cmd, "from"),
		To:    mustGetString(cmd, "to"),
		Roll:  strings.TrimSpace(mustGetString(cmd, "roll")),
		Class: strings.TrimSpace(mustGetString(cmd, "class")),
	}
	for flag, value := range map[string]string{"date": filter.Date, "from": filter.From, "to": filter.To} {
		if err := validateDate(flag, value); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

// markResult is the JSON shape of attendance mark.
type markResult struct {
	Date     string            `json:"date"`
	Outcome  string            `json:"outcome"`
	Faces    int               `json:"faces"`
	Present  []string          `json:"present"`
	Reset    int64             `json:"reset"`
	Skipped  map[string]string `json:"skipped,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for roll, err := range errs {
		out[roll] = err.Error()
	}
	return out
}

func printReport(report *attendance.Report) {
	fmt.Printf("Date:    %s\n", report.Date)
	fmt.Printf("Faces:   %d\n", report.Faces)
	if report.Reset > 0 {
		fmt.Printf("Reset:   %d record(s) set to Absent\n", report.Reset)
	}

	if len(report.Matched) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nFACE\tROLL\tNAME\tDISTANCE")
		fmt.Fprintln(w, "----\t----\t----\t--------")
		for _, m := range report.Matched {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.3f\n", m.FaceIndex, m.Student.Roll, m.Student.Name, m.Distance)
		}
		w.Flush()
	}

	for _, roll := range sortedKeys(report.Skipped) {
		fmt.Printf("Warning: no usable template for roll %s: %v\n", roll, report.Skipped[roll])
	}
	for _, roll := range sortedKeys(report.Failures) {
		fmt.Printf("Failed: roll %s: %v\n", roll, report.Failures[roll])
	}

	if names := report.Names(); len(names) > 0 {
		fmt.Printf("\nPresent: %s\n", strings.Join(names, ", "))
	} else {
		fmt.Println("\nNo students recognized.")
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	date := mustGetString(cmd, "date")
	if err := validateDate("date", date); err != nil {
		return err
	}
	teacher := strings.TrimSpace(mustGetString(cmd, "teacher"))
	if teacher == "" {
		return errors.New("--teacher must not be empty")
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx := context.Background()
	a, err := setupApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.attendance.Capture(ctx, image, teacher, date)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		if err := outputJSON(markResult{
			Date:     report.Date,
			Outcome:  string(report.Outcome),
			Faces:    report.Faces,
			Present:  report.Names(),
			Reset:    report.Reset,
			Skipped:  errorStrings(report.Skipped),
			Failures: errorStrings(report.Failures),
		}); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Outcome == attendance.OutcomeFailed {
		return errors.New("attendance could not be recorded")
	}
	return nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := setupApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.attendance.Records(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records found.")
		return nil
	}

	present := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tROLL\tNAME\tCLASS\tSTATUS\tTEACHER")
	fmt.Fprintln(w, "----\t----\t----\t----\t-----\t------\t-------")
	for _, r := range records {
		if r.Status == database.StatusPresent {
			present++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.Date, r.Time, r.Roll, r.Name, r.Class, r.Status, r.Teacher)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d records, %d present\n", len(records), present)
	return nil
}

func runAttendanceExport(cmd *cobra.Command, args []string) error {
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}
	output := mustGetString(cmd, "output")
	if output == "" {
		output = export.Filename(filter)
	}

	ctx := context.Background()
	a, err := setupApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.attendance.Records(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list attendance: %w", err)
	}

	f, err := os.Create(output) //nolint:gosec // path is chosen by the operator
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	if err := export.WriteXLSX(f, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", output, err)
	}

	fmt.Printf("Exported %d record(s) to %s\n", len(records), output)
	return nil
}
