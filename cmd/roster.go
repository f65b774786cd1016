package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/database/mariadb"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Synchronize students with the school information system",
}

var rosterSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Update names and classes of enrolled students from the roster database",
	Long: `Read the roster table from the school information system (MariaDB) and
update the name and class of every enrolled student with the same roll number.
Roster rows without an enrolled student are listed since they still need a photo.

Requires ROSTER_DATABASE_URL, e.g. sis:secret@tcp(localhost:3306)/school`,
	Args: cobra.NoArgs,
	RunE: runRosterSync,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterSyncCmd)

	rosterSyncCmd.Flags().String("table", "", "Roster table (defaults to ROSTER_TABLE or \"students\")")
}

func runRosterSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Roster.DatabaseURL == "" {
		return errors.New("ROSTER_DATABASE_URL environment variable is required")
	}
	table := mustGetString(cmd, "table")
	if table == "" {
		table = a.cfg.Roster.Table
	}

	fmt.Printf("Connecting to roster database...\n")
	roster, err := mariadb.NewPool(a.cfg.Roster.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to roster database: %w", err)
	}
	defer roster.Close()

	entries, err := roster.ReadRoster(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	fmt.Printf("Read %d roster row(s) from %s\n", len(entries), table)

	result, err := a.enrollment.SyncRoster(ctx, entries)
	if err != nil {
		return err
	}

	for _, roll := range result.Duplicate {
		fmt.Printf("Warning: roll %s is listed more than once, later rows ignored\n", roll)
	}

	if len(result.Missing) > 0 {
		fmt.Println("\nNot enrolled yet:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ROLL\tNAME\tCLASS")
		fmt.Fprintln(w, "----\t----\t-----")
		for _, e := range result.Missing {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Roll, e.Name, e.Class)
		}
		w.Flush()
	}

	fmt.Printf("\nUpdated %d, unchanged %d, not enrolled %d\n",
		len(result.Updated), result.Unchanged, len(result.Missing))
	return nil
}
