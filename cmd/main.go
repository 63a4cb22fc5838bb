package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nodebulkdelete/internal/app"
	"nodebulkdelete/internal/config"
	"nodebulkdelete/internal/logger"
	"nodebulkdelete/internal/node"
	"nodebulkdelete/internal/report"
	"nodebulkdelete/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nodebulkdelete",
	Short: "Delete nodes of one content type created inside a date range",
	Long: `A batched, resumable bulk node deletion tool. Matching nodes are exported to a CSV
audit file, split into chunks and deleted together with their revisions and field data.`,
	SilenceUsage: true,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the content types that can be deleted",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *app.Service, _ []string) error {
		types, err := svc.ContentTypes(ctx)
		if err != nil {
			return err
		}
		for _, ct := range types {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ct.ID, ct.Label)
		}
		return nil
	}),
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the current and to-be-deleted node counts",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *app.Service, _ []string) error {
		counts, err := svc.Counts(ctx, formInput(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.Counts(counts))
		return nil
	}),
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Report what a deletion would remove without touching any node",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *app.Service, _ []string) error {
		out, err := svc.Simulate(ctx, formInput(cmd))
		return printOutcome(cmd, out, err)
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the matching nodes in checkpointed chunks",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *app.Service, _ []string) error {
		if runID, _ := cmd.Flags().GetString("resume"); runID != "" {
			out, err := svc.Resume(ctx, runID)
			return printOutcome(cmd, out, err)
		}
		out, err := svc.Delete(ctx, formInput(cmd))
		return printOutcome(cmd, out, err)
	}),
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored deletion runs, newest first",
	Args:  cobra.NoArgs,
	RunE: withService(func(ctx context.Context, cmd *cobra.Command, svc *app.Service, _ []string) error {
		runs, err := svc.Runs(ctx)
		if err != nil {
			return err
		}
		for _, st := range runs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d/%d chunks\t%d/%d nodes\t%s\n",
				st.RunID, st.Status, st.ContentType,
				st.ProcessedChunks, st.TotalChunks,
				st.DeletedCount, st.TotalExpected,
				st.UpdatedAt.Format(time.RFC3339),
			)
		}
		return nil
	}),
}

var seedCmd = &cobra.Command{
	Use:   "seed <fixtures.yaml>",
	Short: "Load content types, fields and nodes from a YAML fixtures file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		fx, err := store.LoadFixtures(args[0])
		if err != nil {
			return err
		}

		records, err := store.Open(cfg.Database.Path, store.Options{BypassAccess: cfg.Database.BypassAccess})
		if err != nil {
			return err
		}
		defer records.Close()

		n, err := records.Seed(cmd.Context(), fx)
		if err != nil {
			return err
		}
		log.Info("Fixtures loaded", zap.String("file", args[0]), zap.Int("nodes", n))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	for _, cmd := range []*cobra.Command{countCmd, simulateCmd, deleteCmd} {
		cmd.Flags().String("content-type", "", "Content type to delete")
		cmd.Flags().String("start-date", "2025-06-01", "First creation day, inclusive (YYYY-MM-DD)")
		cmd.Flags().String("end-date", "2025-08-28", "Last creation day, inclusive (YYYY-MM-DD)")
	}
	deleteCmd.Flags().String("resume", "", "Resume the stored run with this id")

	rootCmd.AddCommand(typesCmd, countCmd, simulateCmd, deleteCmd, runsCmd, seedCmd)
}

func formInput(cmd *cobra.Command) app.Input {
	contentType, _ := cmd.Flags().GetString("content-type")
	start, _ := cmd.Flags().GetString("start-date")
	end, _ := cmd.Flags().GetString("end-date")
	return app.Input{ContentType: contentType, StartDate: start, EndDate: end}
}

// printOutcome writes the operator message. Validation failures are reported
// through the message only.
func printOutcome(cmd *cobra.Command, out app.Outcome, err error) error {
	if err != nil && !errors.Is(err, node.ErrValidation) {
		return err
	}
	w := cmd.OutOrStdout()
	if out.Message.Level == report.LevelError {
		w = cmd.ErrOrStderr()
	}
	fmt.Fprintln(w, out.Message.Text)
	return nil
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

type action func(ctx context.Context, cmd *cobra.Command, svc *app.Service, args []string) error

// withService builds the service and a context cancelled on SIGINT/SIGTERM
func withService(fn action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer log.Sync()

		svc, err := app.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case <-sigChan:
				log.Info("Received shutdown signal, finishing the current chunks...")
				cancel()
			case <-ctx.Done():
			}
		}()

		err = fn(ctx, cmd, svc, args)

		if closeErr := svc.Close(); closeErr != nil {
			log.Error("Error closing service", zap.Error(closeErr))
		}
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
