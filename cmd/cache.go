package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/feedback-cli/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and compact the classification cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache log size and superseded entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.CacheStats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

var cacheCompactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop superseded cache entries, keeping the newest per key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "maintenance")
		if err != nil {
			return err
		}
		defer env.Close()

		removed, err := env.Store.CompactCache(ctx)
		if err != nil {
			return eris.Wrap(err, "cache compact")
		}
		fmt.Fprintf(os.Stderr, "Removed %d superseded entries.\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheCompactCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes cache counters to w.
func formatCacheStats(w io.Writer, s model.CacheStats) {
	ratio := 0.0
	if s.Entries > 0 {
		ratio = float64(s.Superseded()) / float64(s.Entries)
	}
	_, _ = fmt.Fprintf(w, "Entries:     %d\n", s.Entries)
	_, _ = fmt.Fprintf(w, "Unique keys: %d\n", s.UniqueKeys)
	_, _ = fmt.Fprintf(w, "Superseded:  %d (%.0f%%)\n", s.Superseded(), ratio*100)
}
