// Command profilectl manages student report records: saving and inspecting
// records and their history, extracting reports, and backing up archives.
package main

import (
	"circlereports/internal/blob"
	"circlereports/internal/config"
	"circlereports/internal/core"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 1
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root, a := newRootCmd(out, errOut)
	root.SetIn(in)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitError
	}
	return exitSuccess
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	configPath string
	dataDir    string
	cfg        config.Config
	logger     *slog.Logger
	svc        *core.Service
	closers    []io.Closer
	out        io.Writer
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "profilectl",
		Short:         "Manage student report records, their history and backups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.configPath, "config", "circlereports.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory anchoring default storage paths")

	root.AddCommand(
		newSaveCmd(a),
		newShowCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newHistoryCmd(a),
		newReportCmd(a),
		newSearchCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newBackupsCmd(a),
	)
	return root, a
}

func (a *app) open(ctx context.Context) error {
	lookup := func(key string) (string, bool) {
		if key == "CIRCLEREPORTS_DATA_DIR" && a.dataDir != "" {
			return a.dataDir, true
		}
		return os.LookupEnv(key)
	}
	cfg, err := config.LoadWith(a.configPath, lookup)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger()

	storage, err := core.OpenStorage(ctx, cfg.Storage, a.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, storage)

	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithReportConcurrency(cfg.Report.Concurrency),
	}
	archives, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		a.logger.Warn("backups disabled", "error", err)
	} else {
		opts = append(opts, core.WithArchiveStore(archives, cfg.Backup.Retain))
	}
	switch cfg.Metrics.Driver {
	case "expvar":
		opts = append(opts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("")))
	case "prometheus":
		opts = append(opts, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(prometheus.NewRegistry())))
	}
	if cfg.Metrics.TraceFile != "" {
		f, err := os.OpenFile(cfg.Metrics.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f)
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	a.svc = core.NewService(storage, opts...)
	return nil
}

func (a *app) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
