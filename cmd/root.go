package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/vibetracker/pkg/log"
)

// Version is the application version.
const Version = "0.1.0"

type rootOptions struct {
	envFile  string
	logLevel string
	logFile  string

	fileLogger *log.FileLogger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "vibetracker",
		Short:         "Track webcam emotions per foreground application",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.teardown()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (default: $LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of stdout")

	root.AddCommand(newRunCmd(), newSummaryCmd(), newEncodeCmd())
	return root
}

func (o *rootOptions) setup() error {
	if o.envFile != "" {
		// existing environment variables win over the file
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	levelName := o.logLevel
	if levelName == "" {
		levelName = os.Getenv("LOG_LEVEL")
	}
	level := log.ParseLevel(levelName)

	if o.logFile == "" {
		log.InitLogger(level)
		return nil
	}
	fileLogger, err := log.NewFileLogger(o.logFile, level)
	if err != nil {
		return err
	}
	o.fileLogger = fileLogger
	log.SetLogger(fileLogger.Logger)
	return nil
}

func (o *rootOptions) teardown() {
	if o.fileLogger == nil {
		return
	}
	_ = o.fileLogger.Close()
	o.fileLogger = nil
}
