package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/parcel-feasibility/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the GIS response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show file cache size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Cache.Driver != "file" {
			return eris.Errorf("cache stats supports the file driver only, got %q", cfg.Cache.Driver)
		}
		fc, err := cache.NewFileCache(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		return printCacheStats(os.Stdout, cfg.Cache.Dir, fc)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached response",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := cache.New(cfg.Cache.Driver, cfg.Cache.Dir, cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			return eris.Wrap(err, "init cache")
		}
		if closer, ok := c.(io.Closer); ok {
			defer closer.Close() //nolint:errcheck
		}

		cl, ok := c.(cache.Clearer)
		if !ok {
			fmt.Fprintln(os.Stderr, "Nothing to clear.")
			return nil
		}
		if err := cl.Clear(cmd.Context()); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		fmt.Fprintf(os.Stderr, "Cleared %s cache.\n", cfg.Cache.Driver)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func printCacheStats(out io.Writer, dir string, fc *cache.FileCache) error {
	n, size, err := fc.Stats()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "dir:     %s\nentries: %s\nsize:    %s\n", dir, humanize.Comma(int64(n)), humanize.Bytes(uint64(size)))
	return err
}
