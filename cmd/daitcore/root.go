package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/haormj/daitcore/identity"
	"github.com/haormj/daitcore/miner"
	"github.com/haormj/daitcore/protocol"
	"github.com/haormj/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "DAIT_"

type options struct {
	coordinator      string
	timeout          time.Duration
	skipVersionCheck bool

	backend string
	device  int
	workers int

	ax, ay, bx, by int

	pubKey     string
	pubKeyFile string

	backoff miner.Backoff

	logLevel  string
	logFormat string

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{backoff: miner.DefaultBackoff()}

	cmd := &cobra.Command{
		Use:           "daitcore",
		Short:         "Multiply matrices from the DAIT coordinator on a local accelerator",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnv(cmd.Flags(), os.LookupEnv); err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}

			opts.logger = logger
			slog.SetDefault(logger)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	f := cmd.Flags()
	f.StringVar(&opts.coordinator, "coordinator", protocol.DefaultBaseURL, "coordinator base url")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "timeout of a single coordinator request")
	f.BoolVar(&opts.skipVersionCheck, "skip-version-check", false, "do not compare the client version with the coordinator")
	f.StringVar(&opts.backend, "backend", "opencl", "compute backend: opencl or cpu")
	f.IntVar(&opts.device, "device", -1, "OpenCL device index; prompts when negative")
	f.IntVar(&opts.workers, "workers", 0, "cpu backend goroutines, 0 for GOMAXPROCS")
	f.IntVar(&opts.ax, "ax", 5000, "rows of matrix a")
	f.IntVar(&opts.ay, "ay", 5000, "columns of matrix a")
	f.IntVar(&opts.bx, "bx", 5000, "rows of matrix b")
	f.IntVar(&opts.by, "by", 5000, "columns of matrix b")
	f.StringVar(&opts.pubKey, "pubkey", "", "public key to credit; stored in --pubkey-file")
	f.StringVar(&opts.pubKeyFile, "pubkey-file", identity.DefaultPath, "file holding the public key")
	f.DurationVar(&opts.backoff.Min, "backoff-min", opts.backoff.Min, "wait after the first failed or empty cycle, 0 disables")
	f.DurationVar(&opts.backoff.Max, "backoff-max", opts.backoff.Max, "upper bound of the wait between cycles")
	f.Float64Var(&opts.backoff.Factor, "backoff-factor", opts.backoff.Factor, "growth of the wait per consecutive miss")
	f.Float64Var(&opts.backoff.Jitter, "backoff-jitter", opts.backoff.Jitter, "random spread of the wait, fraction in [0,1]")

	cmd.SetVersionTemplate(version.FullVersion())
	cmd.AddCommand(newDevicesCmd(opts))

	return cmd
}

// applyEnv sets every flag not given on the command line from DAIT_<NAME>,
// where NAME is the flag name upper-cased with dashes as underscores.
func applyEnv(flags *pflag.FlagSet, lookup func(string) (string, bool)) error {
	var errs []string

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}

		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		v, ok := lookup(name)
		if !ok {
			return
		}

		if err := flags.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}

	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
