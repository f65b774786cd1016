package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/enrollment"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enroll a student from a reference photo",
	Long: `Enroll a student. The first face detected in the photo becomes the
student's template used for attendance matching.

Examples:
  rollcall students add --name "Jana Nováková" --roll 7A-12 --class 7A --photo jana.jpg`,
	Args: cobra.NoArgs,
	RunE: runStudentsAdd,
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	Args:  cobra.NoArgs,
	RunE:  runStudentsList,
}

var studentsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a student",
	Long: `Edit a student. Only the given flags are changed. A new photo replaces the
template; a roll change without a photo keeps the existing template.`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsEdit,
}

var studentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a student together with the template and photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsDelete,
}

var studentsImportCmd = &cobra.Command{
	Use:   "import <folder>",
	Short: "Enroll students from a folder of photos",
	Long: `Enroll one student per photo in a folder. File names are parsed as
<roll>_<name>.<ext>, underscores in the name become spaces. A file without an
underscore uses its base name for both roll and name.

Examples:
  rollcall students import ./photos/7a --class 7A
  rollcall students import ./photos --class 7A --recursive`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsImport,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsAddCmd, studentsListCmd, studentsEditCmd, studentsDeleteCmd, studentsImportCmd)

	studentsAddCmd.Flags().String("name", "", "Student name")
	studentsAddCmd.Flags().String("roll", "", "Roll number, unique")
	studentsAddCmd.Flags().String("class", "", "Class")
	studentsAddCmd.Flags().String("photo", "", "Path to the reference photo")
	_ = studentsAddCmd.MarkFlagRequired("photo")

	studentsListCmd.Flags().String("query", "", "Only show students whose name, roll or class contains this text")
	studentsListCmd.Flags().Bool("json", false, "Output as JSON")

	studentsEditCmd.Flags().String("name", "", "New name")
	studentsEditCmd.Flags().String("roll", "", "New roll number")
	studentsEditCmd.Flags().String("class", "", "New class")
	studentsEditCmd.Flags().String("photo", "", "Path to a new reference photo")

	studentsDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")

	studentsImportCmd.Flags().String("class", "", "Class assigned to every imported student")
	studentsImportCmd.Flags().Bool("recursive", false, "Include photos in subfolders")
	studentsImportCmd.Flags().Int("concurrency", constants.ImportWorkers, "Number of photos processed in parallel")
	_ = studentsImportCmd.MarkFlagRequired("class")
}

// isImageFile checks if a file has an extension the detector accepts
func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// parseImportName splits a photo file name into roll and name.
func parseImportName(fileName string) (roll, name string) {
	stem := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	roll, name, ok := strings.Cut(stem, "_")
	if !ok || strings.TrimSpace(name) == "" {
		return strings.TrimSpace(stem), strings.TrimSpace(stem)
	}
	return strings.TrimSpace(roll), strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}

func parseStudentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid student ID %q", arg)
	}
	return id, nil
}

// describeEnrollError turns service errors into messages for the terminal.
func describeEnrollError(err error) error {
	var ve *enrollment.ValidationError
	switch {
	case errors.As(err, &ve):
		return err
	case errors.Is(err, database.ErrDuplicateRoll):
		return errors.New("roll number already exists")
	case errors.Is(err, database.ErrStudentNotFound):
		return errors.New("student not found")
	}
	return err
}

func runStudentsAdd(cmd *cobra.Command, args []string) error {
	photo, err := os.ReadFile(mustGetString(cmd, "photo"))
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	ctx := context.Background()
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	reg, err := a.enrollment.Register(ctx, enrollment.Input{
		Name:  mustGetString(cmd, "name"),
		Roll:  mustGetString(cmd, "roll"),
		Class: mustGetString(cmd, "class"),
	}, photo)
	if err != nil {
		return describeEnrollError(err)
	}

	fmt.Printf("Enrolled %s (roll %s, class %s) with ID %d\n",
		reg.Student.Name, reg.Student.Roll, reg.Student.Class, reg.Student.ID)
	for _, m := range reg.LookAlikes {
		fmt.Printf("Warning: looks like roll %s (distance %.3f)\n", m.Roll, m.Distance)
	}
	saveEncodingIndex()
	return nil
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	students, err := a.enrollment.Search(ctx, mustGetString(cmd, "query"))
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(students)
	}

	if len(students) == 0 {
		fmt.Println("No students found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLL\tNAME\tCLASS\tENROLLED")
	fmt.Fprintln(w, "--\t----\t----\t-----\t--------")
	for _, s := range students {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Roll, s.Name, s.Class, s.CreatedAt.Format(database.DateLayout))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d students\n", len(students))
	return nil
}

func runStudentsEdit(cmd *cobra.Command, args []string) error {
	id, err := parseStudentID(args[0])
	if err != nil {
		return err
	}

	var photo []byte
	if path := mustGetString(cmd, "photo"); path != "" {
		if photo, err = os.ReadFile(path); err != nil {
			return fmt.Errorf("reading photo: %w", err)
		}
	}

	ctx := context.Background()
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	current, err := a.enrollment.Get(ctx, id)
	if err != nil {
		return describeEnrollError(err)
	}

	in := enrollment.Input{Name: current.Name, Roll: current.Roll, Class: current.Class}
	if cmd.Flags().Changed("name") {
		in.Name = mustGetString(cmd, "name")
	}
	if cmd.Flags().Changed("roll") {
		in.Roll = mustGetString(cmd, "roll")
	}
	if cmd.Flags().Changed("class") {
		in.Class = mustGetString(cmd, "class")
	}

	updated, err := a.enrollment.Update(ctx, id, in, photo)
	if err != nil {
		return describeEnrollError(err)
	}
	fmt.Printf("Updated student %d: %s (roll %s, class %s)\n", updated.ID, updated.Name, updated.Roll, updated.Class)
	saveEncodingIndex()
	return nil
}

func runStudentsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseStudentID(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	student, err := a.enrollment.Get(ctx, id)
	if err != nil {
		return describeEnrollError(err)
	}

	if !mustGetBool(cmd, "yes") && !confirm(fmt.Sprintf("Delete %s (roll %s)?", student.Name, student.Roll)) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := a.enrollment.Delete(ctx, id); err != nil {
		return describeEnrollError(err)
	}
	fmt.Printf("Deleted %s (roll %s).\n", student.Name, student.Roll)
	saveEncodingIndex()
	return nil
}

// collectPhotos lists image files in a folder, optionally walking subfolders.
func collectPhotos(folder string, recursive bool) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("cannot access folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", folder)
	}

	var paths []string
	if recursive {
		err := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isImageFile(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot walk folder %s: %w", folder, err)
		}
		return paths, nil
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", folder, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isImageFile(entry.Name()) {
			paths = append(paths, filepath.Join(folder, entry.Name()))
		}
	}
	return paths, nil
}

func runStudentsImport(cmd *cobra.Command, args []string) error {
	class := mustGetString(cmd, "class")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)

	paths, err := collectPhotos(args[0], mustGetBool(cmd, "recursive"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No photos found.")
		return nil
	}

	ctx := context.Background()
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("Enrolling %d student(s) into class %s...\n", len(paths), class)
	bar := newProgressBar(len(paths), "Enrolling")

	var (
		enrolled   int
		failures   []string
		lookAlikes []string
		mu         sync.Mutex
		wg         sync.WaitGroup
		sem        = make(chan struct{}, concurrency)
	)

	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			roll, name := parseImportName(p)
			photo, err := os.ReadFile(p)
			var reg *enrollment.Registration
			if err == nil {
				reg, err = a.enrollment.Register(ctx, enrollment.Input{Name: name, Roll: roll, Class: class}, photo)
			}

			mu.Lock()
			switch {
			case err != nil:
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(p), describeEnrollError(err)))
			default:
				enrolled++
				for _, m := range reg.LookAlikes {
					lookAlikes = append(lookAlikes, fmt.Sprintf("%s looks like %s (distance %.3f)", roll, m.Roll, m.Distance))
				}
			}
			mu.Unlock()
			bar.Add(1)
		}(path)
	}
	wg.Wait()
	fmt.Println()

	for _, msg := range failures {
		fmt.Printf("Failed: %s\n", msg)
	}
	for _, msg := range lookAlikes {
		fmt.Printf("Warning: %s\n", msg)
	}

	saveEncodingIndex()
	fmt.Printf("\nDone! Enrolled %d of %d student(s)\n", enrolled, len(paths))
	if enrolled == 0 {
		return errors.New("no students were enrolled")
	}
	return nil
}
