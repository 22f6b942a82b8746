package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/artifactcache"
	"arbiter/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Artifact cache maintenance",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show artifact cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "Artifact cache is disabled")
				return nil
			}
			cache := artifactcache.New(cfg, logging.NewNop())
			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  %-10s %s\n", "Directory:", cfg.Cache.Dir)
			fmt.Fprintf(out, "  %-10s %d\n", "Entries:", stats.Entries)
			fmt.Fprintf(out, "  %-10s %.1f MiB of %.1f MiB\n", "Used:",
				float64(stats.TotalBytes)/(1<<20), float64(stats.MaxBytes)/(1<<20))
			return nil
		},
	}
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired and excess cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled {
				fmt.Fprintln(cmd.OutOrStdout(), "Artifact cache is disabled")
				return nil
			}
			cache := artifactcache.New(cfg, logging.NewNop())
			before, err := cache.Stats()
			if err != nil {
				return err
			}
			if err := cache.Prune(); err != nil {
				return err
			}
			after, err := cache.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries (%.1f MiB freed)\n",
				before.Entries-after.Entries, float64(before.TotalBytes-after.TotalBytes)/(1<<20))
			return nil
		},
	}
}
