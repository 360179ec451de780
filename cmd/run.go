package main

import (
	"github.com/spf13/cobra"

	"github.com/MimeLyc/vibetracker/internal/config"
	"github.com/MimeLyc/vibetracker/internal/service"
	"github.com/MimeLyc/vibetracker/pkg/log"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the capture API and process batches until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			svc, err := service.New(cfg)
			if err != nil {
				return err
			}

			log.Info("vibetracker %s started, batch size %d", Version, cfg.Tracker.BatchSize)
			return svc.Run(cmd.Context())
		},
	}
}
