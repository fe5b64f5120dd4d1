package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loqalabs/ellie/internal/config"
	"github.com/loqalabs/ellie/internal/eventstore"
	"github.com/loqalabs/ellie/internal/scoring"
)

var version = "0.1.0-dev"

var (
	configPath string
	learner    string
	limit      int
	importFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ellie-ctl",
		Short:        "Inspect and manage Ellie practice data",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ellie.yaml", "path to configuration file")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return rootCmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config valid")
			return nil
		},
	}
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Show a learner's score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(store *eventstore.Store) error {
				state, _, err := store.LoadState(cmd.Context(), learner)
				if err != nil {
					return err
				}
				return printScore(cmd.OutOrStdout(), learner, state)
			})
		},
	}
	cmd.Flags().StringVar(&learner, "learner", "default", "learner id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a learner's recent practice events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withStore(cmd.Context(), func(store *eventstore.Store) error {
				events, err := store.ListLearnerEvents(cmd.Context(), learner, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSESSION\tTYPE\tPAYLOAD")
				for _, evt := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
						evt.CreatedAt.Local().Format("2006-01-02 15:04:05"), evt.SessionID, evt.Type, evt.Payload)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&learner, "learner", "default", "learner id")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a learner's score with a saved stats document",
		Long: "Import reads a stats JSON document (the same shape the browser client keeps) " +
			"and stores it for the learner. Missing fields load as zero and values are clamped to valid ranges.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readImport(cmd.InOrStdin(), importFile)
			if err != nil {
				return err
			}
			var state scoring.State
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("decode stats document: %w", err)
			}
			state = scoring.Import(state)
			return withStore(cmd.Context(), func(store *eventstore.Store) error {
				if err := store.SaveState(cmd.Context(), learner, state); err != nil {
					return err
				}
				return printScore(cmd.OutOrStdout(), learner, state)
			})
		},
	}
	cmd.Flags().StringVar(&learner, "learner", "default", "learner id")
	cmd.Flags().StringVar(&importFile, "file", "-", "stats JSON file, - for stdin")
	return cmd
}

func readImport(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func withStore(ctx context.Context, fn func(*eventstore.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	if store.Ephemeral() {
		return fmt.Errorf("event_store.retention_mode is ephemeral; nothing is stored on disk")
	}
	return fn(store)
}

func printScore(w io.Writer, learner string, state scoring.State) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "learner: %s\n", learner)
	fmt.Fprintln(tw, "CATEGORY\tATTEMPTS\tPOINTS\tSTREAK\tPROGRESS\tMILESTONES")
	for _, c := range scoring.Categories {
		st := state.Stats(c)
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%d\t%.0f%%\t%s\n",
			c.Label(), st.Attempts, scoring.MaxAttempts, st.Points, st.Streak, state.Progress(c), milestones(st))
	}
	if state.BonusAwarded {
		fmt.Fprintf(tw, "bonus:\t%d\n", state.BonusPoints)
	}
	fmt.Fprintf(tw, "total:\t%d\n", state.TotalScore())
	return tw.Flush()
}

func milestones(st scoring.CategoryStats) string {
	var out []string
	if st.Milestone5 {
		out = append(out, "5")
	}
	if st.Milestone10 {
		out = append(out, "10")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}
