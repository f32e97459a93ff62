package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kidvoice/internal/database"
	"kidvoice/internal/repository"
	"kidvoice/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		version, err := db.MigrationVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database at migration version %d\n", version)
		return nil
	},
}

var seedTermsCmd = &cobra.Command{
	Use:   "seed-terms",
	Short: "Download the blocked-term list into an empty blocked_terms table",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		source := cfg.BlockedTermsURL
		if source == "" {
			source = database.DefaultBlockedTermsURL
		}
		added, err := db.SeedBlockedTerms(cmd.Context(), nil, source)
		if err != nil {
			return err
		}
		log.Info("blocked terms seeded", zap.Int("added", added), zap.String("source", source))
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d blocked terms\n", added)
		return nil
	},
}

func newStores(db *database.DB) service.Stores {
	return service.Stores{
		Children:   repository.NewChildRepository(db),
		Sessions:   repository.NewSessionRepository(db),
		Utterances: repository.NewUtteranceRepository(db),
		Decisions:  repository.NewDecisionRepository(db),
	}
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <session-id>",
	Short: "Generate, store and email the parent summary for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		blocked, err := db.BlockedTerms(ctx)
		if err != nil {
			return err
		}
		completer, review, err := newCompleter(ctx, cfg)
		if err != nil {
			return err
		}
		emailService, err := newEmailService(ctx)
		if err != nil {
			return err
		}

		summaries := service.NewSummaryService(newStores(db), completer, cfg.GenerationTimeout,
			newGate(cfg, completer, review, blocked, log), emailService, log)
		summary, err := summaries.Summarize(ctx, args[0])
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	},
}

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Write the parent-facing transcript of a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		exports := service.NewExportService(newStores(db), log)
		if exportOutput == "-" {
			return exports.ExportToWriter(cmd.Context(), args[0], cmd.OutOrStdout())
		}

		outputPath := exportOutput
		if outputPath == "" {
			outputPath = fmt.Sprintf("transcript_%s_%s.json", args[0], time.Now().Format("20060102_150405"))
		}
		if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		if err := exports.Export(cmd.Context(), args[0], outputPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Transcript written to %s\n", outputPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path, or - for stdout (default: transcript_<session>_YYYYMMDD_HHMMSS.json)")
}
