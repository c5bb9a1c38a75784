package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stableguard/stableguard/internal/app"
	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/pkg/dto"
)

// env opens what a command needs on first use. Tests fill core and
// listModels directly.
type env struct {
	configPath string
	cfg        *config.Config
	core       *app.Core
	ownsCore   bool
	listModels func(ctx context.Context) ([]dto.ModelInfo, error)
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	e.cfg = cfg
	return cfg, nil
}

func (e *env) openCore(ctx context.Context) (*app.Core, error) {
	if e.core != nil {
		return e.core, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	core, err := app.OpenCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.core, e.ownsCore = core, true
	return core, nil
}

func (e *env) models(ctx context.Context) ([]dto.ModelInfo, error) {
	if e.listModels != nil {
		return e.listModels(ctx)
	}
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	if cfg.ML.Mock {
		return []dto.ModelInfo{
			{ModelID: "mock", Role: "vlm", LoadedAt: "n/a", Device: "cpu"},
			{ModelID: "mock", Role: "embedder", LoadedAt: "n/a", Device: "cpu"},
		}, nil
	}
	client := inference.NewClient(inference.ClientConfig{BaseURL: cfg.ML.ServiceURL, Timeout: cfg.ML.Timeout})
	return client.Models(ctx)
}

func (e *env) close() {
	if e.ownsCore {
		e.core.Store.Close()
	}
}

func rootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "sgctl",
		Short:         "StableGuard operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			e.close()
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(
		resubmitCommand(e),
		reembedAllCommand(e),
		queueCommand(e),
		modelsCommand(e),
	)
	return root
}

func resubmitCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resubmit <job-id>",
		Short: "Queue a new job for the event of a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			core, err := e.openCore(cmd.Context())
			if err != nil {
				return err
			}
			job, err := ingest.Resubmit(cmd.Context(), core.Store, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d queued for event %d\n", job.ID, job.EventID)
			return nil
		},
	}
}

func reembedAllCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reembed-all",
		Short: "Re-embed every horse with the current embedding model",
		Long: "Run after swapping the embedding model. Horses whose reference\n" +
			"image is missing are reported and skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := e.openCore(cmd.Context())
			if err != nil {
				return err
			}
			svc := identity.NewService(core.Store, core.Frames, core.ML, core.Catalog)
			updated, failures, err := svc.ReembedAll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "updated %d horse(s)\n", len(updated))
			for _, f := range failures {
				fmt.Fprintf(out, "  error: %s\n", f)
			}
			if len(failures) > 0 {
				return errors.New("some horses were not re-embedded")
			}
			return nil
		},
	}
}

func queueCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := e.openCore(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := core.Store.CountJobs(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATUS\tJOBS")
			for _, s := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobDone, models.JobFailed} {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
			}
			return tw.Flush()
		},
	}
}

func modelsCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the ml-service has loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := e.models(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tMODEL\tREVISION\tDEVICE\tLOADED")
			for _, m := range list {
				rev := "-"
				if m.Revision != nil {
					rev = *m.Revision
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Role, m.ModelID, rev, m.Device, m.LoadedAt)
			}
			return tw.Flush()
		},
	}
}
