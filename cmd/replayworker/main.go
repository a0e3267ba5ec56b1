// Package main は記録済みフィードを再生するワーカーのエントリーポイントです。
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/logger"
	"github.com/yourusername/scrape-forge/internal/replay"
)

var (
	flagConfigPath string
	flagOutPath    string
	flagIDField    string
	flagCompany    string
	flagTitle      string
)

func main() {
	// 標準出力は進捗行専用なのでログは標準エラーへ
	logCfg := logger.DefaultConfig()
	logCfg.Format = "text"
	logCfg.Output = os.Stderr
	logger.New(logCfg)

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(newRunCmd(), newMergeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "replayworker: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "replayworker",
	Short:        "Replays a recorded job feed using the worker progress protocol",
	SilenceUsage: true,
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run reads the injected config and replays its feed into outputFile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := replay.LoadConfig(flagConfigPath)
			if err != nil {
				return err
			}
			stats, err := replay.Run(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "replay finished",
				"output", cfg.OutputFile,
				"added", stats.Added,
				"skipped", stats.Skipped,
				"existing", stats.Existing,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagConfigPath, "config", "", "injected config file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <input.csv>...",
		Short: "merge appends rows from input CSV files to an artifact, skipping duplicates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := artifact.DedupFields{ID: flagIDField, Company: flagCompany, Title: flagTitle}
			var total artifact.MergeStats
			for _, path := range args {
				header, records, err := readCSV(path)
				if err != nil {
					return err
				}
				stats, err := artifact.Merge(flagOutPath, header, records, fields)
				if err != nil {
					return fmt.Errorf("merge %s: %w", path, err)
				}
				total.Added += stats.Added
				total.Skipped += stats.Skipped
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, skipped %d\n", total.Added, total.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagOutPath, "out", "", "artifact CSV to append to")
	cmd.Flags().StringVar(&flagIDField, "id-field", "job_id", "column holding the source-specific id")
	cmd.Flags().StringVar(&flagCompany, "company-field", "company", "column holding the company name")
	cmd.Flags().StringVar(&flagTitle, "title-field", "title", "column holding the title")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func readCSV(path string) ([]string, []map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return artifact.ReadRecords(file)
}
