package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smpb05/janus-gateway/internal/client"
	"github.com/smpb05/janus-gateway/internal/ingest"
	"github.com/smpb05/janus-gateway/internal/model"
	"github.com/smpb05/janus-gateway/internal/pipeline"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var skipIngest bool

	cmd := &cobra.Command{
		Use:   "convert <room>",
		Short: "Convert a room in the foreground, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger()

			var ingester ingest.Ingester = ingest.Nop{}
			if !skipIngest && cfg.Ingest.ScriptPath != "" {
				ingester = ingest.NewScriptIngester(cfg.Ingest.Shell, cfg.Ingest.ScriptPath, logger)
			}

			opts := pipeline.Options{TargetHeight: cfg.Media.TargetHeight}
			if cfg.R2.Enabled() {
				r2, err := client.NewR2Client(&cfg.R2)
				if err != nil {
					return err
				}
				opts.Publisher = r2
			}

			processor := pipeline.NewProcessor(ctx.store(cfg), ctx.executor(cfg, logger), ingester, opts, logger)

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			started := time.Now()
			job := &model.Job{
				ID:        uuid.New().String(),
				Request:   model.JobRequest{Room: args[0]},
				State:     model.JobStateActive,
				CreatedAt: started,
			}
			out := cmd.OutOrStdout()
			result, err := processor.Process(runCtx, job, func(progress string) {
				fmt.Fprintln(out, progress)
			})
			if err != nil {
				return fmt.Errorf("convert room %s: %w", args[0], err)
			}

			fmt.Fprintf(out, "Converted room %s into %s in %s\n", args[0], result.Artifact, time.Since(started).Round(time.Second))
			if result.URL != "" {
				fmt.Fprintf(out, "Published at %s\n", result.URL)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipIngest, "skip-ingest", false, "Do not run the .mjr ingest script")
	return cmd
}
