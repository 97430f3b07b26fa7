// Command ntfsctl manipulates files of an NTFS volume image.
//
// The volume is described by a configuration file (see "ntfsctl init"):
// where file records are stored (memory or BadgerDB) and where clusters are
// stored (memory, an image file or an S3 bucket).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittofs-ntfs/internal/logger"
	"github.com/marmos91/dittofs-ntfs/pkg/config"
	"github.com/marmos91/dittofs-ntfs/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	dumpMetrics bool
)

var root = &cobra.Command{
	Use:   "ntfsctl",
	Short: "Create, write, link and delete files on an NTFS volume",
	Long: `
ntfsctl operates on the files of an NTFS volume whose file record table and
cluster device are described by a configuration file.

Paths use backslashes or forward slashes and are resolved from the root
directory, e.g. \docs\report.txt or /docs/report.txt.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: $XDG_CONFIG_HOME/ntfs/config.yaml)")
	root.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false,
		"Enable metrics and print them to stderr in Prometheus text format when done")
}

// withFileSystem loads the configuration, opens the volume, runs fn and
// closes the volume again. With --metrics the collected metrics are printed
// to stderr after the volume is closed.
func withFileSystem(cmd *cobra.Command, fn func(ctx context.Context, rt *config.Runtime) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dumpMetrics {
		cfg.Metrics.Enabled = true
	}

	logCloser, err := config.ConfigureLogging(&cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := config.CreateFileSystem(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, rt)
	if err := rt.Close(); err != nil {
		logger.Error("Failed to close volume: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	if cfg.Metrics.Enabled && dumpMetrics {
		if err := metrics.WriteText(cmd.ErrOrStderr()); err != nil {
			logger.Error("Failed to write metrics: %v", err)
		}
	}
	return runErr
}

func main() {
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
