package main

import (
	"log/slog"

	"github.com/haormj/daitcore/accelerated"
	"github.com/haormj/daitcore/accelerated/cpu"
	"github.com/haormj/daitcore/accelerated/goopencl"
	"github.com/spf13/cobra"
)

func newDevicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the accelerators usable with --device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := goopencl.Devices()
			if err != nil {
				opts.logger.Warn("OpenCL unavailable", slog.Any("error", err))
			}

			if err := accelerated.Describe(cmd.OutOrStdout(), devices); err != nil {
				return err
			}

			host := cpu.New(0).Info()
			host.Index = len(devices)

			return accelerated.Describe(cmd.OutOrStdout(), []accelerated.DeviceInfo{host})
		},
	}
}
