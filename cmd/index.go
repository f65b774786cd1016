package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the encoding HNSW index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the encoding index from the encoding store",
	Long: `Rebuild the in-memory HNSW index from every stored template and save it
to HNSW_INDEX_PATH when configured. A running server only picks up the file on
restart; use POST /api/v1/index/rebuild to refresh a live server.`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	rebuilder := a.indexRebuilder()
	if rebuilder == nil {
		return fmt.Errorf("encoding index could not be initialized")
	}

	start := time.Now()
	if err := rebuilder.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("failed to rebuild encoding index: %w", err)
	}
	if err := rebuilder.SaveIndex(); err != nil {
		return fmt.Errorf("failed to save encoding index: %w", err)
	}

	fmt.Printf("Indexed %d template(s) in %s\n", rebuilder.IndexCount(), time.Since(start).Round(time.Millisecond))
	if a.cfg.Database.HNSWIndexPath == "" {
		fmt.Println("HNSW_INDEX_PATH is not set, the index was not saved")
	}
	return nil
}
