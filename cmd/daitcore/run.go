package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/haormj/daitcore/accelerated"
	"github.com/haormj/daitcore/accelerated/blackcl"
	"github.com/haormj/daitcore/accelerated/cpu"
	"github.com/haormj/daitcore/accelerated/goopencl"
	"github.com/haormj/daitcore/identity"
	"github.com/haormj/daitcore/miner"
	"github.com/haormj/daitcore/offload"
	"github.com/haormj/daitcore/protocol"
	"github.com/haormj/version"
	"github.com/spf13/cobra"
)

func run(cmd *cobra.Command, opts *options) error {
	logger := opts.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := protocol.NewClient(protocol.Config{BaseURL: opts.coordinator, Timeout: opts.timeout})
	if err != nil {
		return err
	}
	defer client.Close()

	if !opts.skipVersionCheck {
		if err := client.CheckVersion(ctx, version.Version); err != nil {
			var mismatch *protocol.VersionMismatchError
			if errors.As(err, &mismatch) {
				fmt.Fprintf(cmd.OutOrStdout(), "Version %s, latest version: %s. Please update DAITCore application.\n",
					mismatch.Local, mismatch.Latest)
			}

			return err
		}
	}

	in := bufio.NewReader(cmd.InOrStdin())

	pubKey, err := resolveIdentity(opts, in, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	backend, err := openBackend(opts, in, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	defer func() {
		if err := backend.Release(); err != nil {
			logger.Warn("release backend", slog.Any("error", err))
		}
	}()

	info := backend.Info()
	logger.Info("accelerator ready", slog.String("kind", info.Kind), slog.String("name", info.Name))

	loop := miner.New(client, offload.New(backend, logger), client, miner.Config{
		Identity: pubKey,
		Dims:     protocol.Dims{AX: opts.ax, AY: opts.ay, BX: opts.bx, BY: opts.by},
		Backoff:  opts.backoff,
		Logger:   logger,
	})

	err = loop.Run(ctx)

	stats := loop.Stats()
	logger.Info("stopped",
		slog.Int("cycles", stats.Cycles),
		slog.Int("completed", stats.Completed),
		slog.Int("no_work", stats.NoWork),
		slog.Int("fetch_failed", stats.FetchFailed),
		slog.Int("device_error", stats.DeviceError),
		slog.Int("submit_failed", stats.SubmitFailed))

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func resolveIdentity(opts *options, in io.Reader, out io.Writer) (string, error) {
	if opts.pubKey != "" {
		if err := identity.Store(opts.pubKeyFile, opts.pubKey); err != nil {
			return "", err
		}

		return strings.TrimSpace(opts.pubKey), nil
	}

	return identity.Ensure(opts.pubKeyFile, in, out)
}

func openBackend(opts *options, in *bufio.Reader, out io.Writer) (accelerated.Backend, error) {
	var backend accelerated.Backend

	switch opts.backend {
	case "cpu":
		backend = cpu.New(opts.workers)
	case "opencl":
		index := opts.device
		if index < 0 {
			devices, err := goopencl.Devices()
			if err != nil {
				return nil, err
			}

			if index, err = selectDevice(devices, in, out); err != nil {
				return nil, err
			}
		}

		backend = blackcl.New(index)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.backend)
	}

	if err := backend.SetupContext(); err != nil {
		return nil, err
	}

	return backend, nil
}

// selectDevice lists devices and reads an index; an empty answer picks 0.
func selectDevice(devices []accelerated.DeviceInfo, in *bufio.Reader, out io.Writer) (int, error) {
	if len(devices) == 0 {
		return 0, errors.New("no OpenCL devices found, use --backend cpu")
	}

	if err := accelerated.Describe(out, devices); err != nil {
		return 0, err
	}

	fmt.Fprint(out, "Select accelerator (1,2,3,...) [0]:")

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read device selection: %w", err)
	}

	return parseSelection(line, len(devices))
}

func parseSelection(line string, count int) (int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}

	index, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("invalid device selection %q: %w", line, err)
	}

	if index < 0 || index >= count {
		return 0, fmt.Errorf("device selection %d out of range [0,%d)", index, count)
	}

	return index, nil
}
