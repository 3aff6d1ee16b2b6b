package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/voxrec/internal/assembler"
	"github.com/satindergrewal/voxrec/internal/config"
	"github.com/satindergrewal/voxrec/internal/timeline"
	"github.com/satindergrewal/voxrec/pkg/logger"
)

type deps struct {
	cfg *config.Config
	log *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	d := &deps{}
	root := &cobra.Command{
		Use:   "recorder",
		Short: "Record voice meetings and assemble them into tracks",
		Long: "recorder joins voice rooms on request, captures each speaker separately, " +
			"and turns the captured segments into per-participant and whole-meeting recordings.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			level, err := logger.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			d.cfg = cfg
			d.log = logger.New(logger.Config{
				Level:      level,
				Output:     os.Stderr,
				AddSource:  level == slog.LevelDebug,
				JSONFormat: cfg.LogJSON,
			})
			return nil
		},
	}

	root.AddCommand(newServeCmd(d))
	root.AddCommand(newAssembleCmd(d))
	root.AddCommand(newTimelineCmd(d))
	return root
}

func newAssembler(cfg *config.Config, tc assembler.Transcoder, log *slog.Logger) *assembler.Assembler {
	return assembler.New(tc, assembler.Options{
		RecordingsDir: cfg.RecordingsDir,
		OutputDir:     cfg.OutputDir,
		Codec:         cfg.Codec,
		Ext:           cfg.EncodedExt,
		Silence: timeline.SilencePolicy{
			ThresholdDB:    cfg.SilenceDB,
			MinDurationSec: cfg.SilenceMin.Seconds(),
		},
	}, log)
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
}
