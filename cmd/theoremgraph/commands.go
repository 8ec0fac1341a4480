package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/theoremgraph"
	"github.com/brunobiangulo/theoremgraph/eval"
	"github.com/brunobiangulo/theoremgraph/source"
)

var (
	ingestForce bool

	watchInitial bool

	queryConversation string
	queryJSON         bool

	evalJSON    bool
	evalMinPass float64
)

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Extract theorems and examples from documents or directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		engine, err := theoremgraph.New(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		var opts []theoremgraph.IngestOption
		if ingestForce {
			opts = append(opts, theoremgraph.WithForce())
		}

		var (
			reports []*theoremgraph.IngestReport
			failed  int
		)
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				reps, err := engine.IngestDir(ctx, path, opts...)
				reports = append(reports, reps...)
				if err != nil {
					failed++
					slog.Error("ingest: directory had failures", "dir", path, "error", err)
				}
				continue
			}
			rep, err := engine.Ingest(ctx, path, opts...)
			if err != nil {
				failed++
				slog.Error("ingest: document failed", "path", path, "error", err)
				continue
			}
			reports = append(reports, rep)
		}

		if err := printJSON(reports); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d ingestion(s) failed", failed)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest new and changed documents under a directory as they appear",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		engine, err := theoremgraph.New(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		dir := args[0]
		if watchInitial {
			if _, err := engine.IngestDir(ctx, dir); err != nil {
				slog.Warn("watch: initial ingestion had failures", "dir", dir, "error", err)
			}
		}

		w, err := source.NewWatcher(dir, cfg.Source.Patterns, cfg.Source.Debounce)
		if err != nil {
			return err
		}
		slog.Info("watch: watching for documents", "dir", dir, "patterns", cfg.Source.Patterns)
		return w.Run(ctx, func(ctx context.Context, path string) {
			rep, err := engine.Ingest(ctx, path)
			if err != nil {
				slog.Error("watch: ingestion failed", "path", path, "error", err)
				return
			}
			slog.Info("watch: document processed", "path", path, "skipped", rep.Skipped)
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the theorem graph",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		engine, err := theoremgraph.New(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		var opts []theoremgraph.QueryOption
		if queryConversation != "" {
			opts = append(opts, theoremgraph.WithConversation(queryConversation))
		}
		answer, err := engine.Query(ctx, strings.Join(args, " "), opts...)
		if err != nil {
			return err
		}
		if queryJSON {
			return printJSON(answer)
		}

		fmt.Println(answer.Text)
		if len(answer.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, s := range answer.Sources {
				fmt.Printf("  - %s (%s, %s)\n", s.Name, s.Subject, s.Domain)
			}
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the graph constraints and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		g, err := theoremgraph.OpenGraph(ctx, cfg)
		if err != nil {
			return err
		}
		defer g.Close()
		fmt.Println("schema ready")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print node and edge counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		g, err := theoremgraph.OpenGraph(ctx, cfg)
		if err != nil {
			return err
		}
		defer g.Close()

		stats, err := g.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.yaml]",
	Short: "Score answers against a question set with known theorems",
	Long: `Asks every question in the dataset and reports theorem recall, fact
accuracy and citation rate. Without a dataset a built-in algebra smoke test
is used. Documents must already be ingested.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ds := eval.AlgebraDataset()
		if len(args) == 1 {
			var err error
			if ds, err = eval.LoadDataset(args[0]); err != nil {
				return err
			}
		}

		engine, err := theoremgraph.New(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		report, err := eval.NewEvaluator(engine).Run(ctx, ds)
		if err != nil {
			return err
		}
		if evalJSON {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			fmt.Print(eval.FormatReport(report))
		}

		if rate := float64(report.Passed) / float64(max(report.TotalTests, 1)); rate < evalMinPass {
			return fmt.Errorf("pass rate %.2f below --min-pass %.2f", rate, evalMinPass)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "Re-extract documents even if unchanged")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "Ingest existing documents before watching")
	queryCmd.Flags().StringVar(&queryConversation, "conversation", "", "Conversation id to continue")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "JSON output")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "JSON output")
	evalCmd.Flags().Float64Var(&evalMinPass, "min-pass", 0, "Fail when the pass rate is below this fraction")

	rootCmd.AddCommand(serveCmd, ingestCmd, watchCmd, queryCmd, evalCmd, schemaCmd, statsCmd)
}
