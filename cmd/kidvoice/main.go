package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kidvoice/internal/config"
	"kidvoice/internal/database"
	"kidvoice/internal/logger"
)

var (
	// Global flags
	debug      bool
	policyPath string

	log *zap.Logger
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kidvoice",
	Short: "Adaptive learning voice for children",
	Long: `kidvoice listens to a child's transcribed speech and decides, turn by turn,
whether a gentle learning voice should speak, encourage or stay quiet.

Configuration comes from the environment (and an optional .env file); policy
tuning comes from an optional YAML file.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if policyPath != "" {
			os.Setenv("POLICY_PATH", policyPath)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		log, err = logger.New(debug || cfg.Debug)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to a YAML policy file (overrides POLICY_PATH)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedTermsCmd, summarizeCmd, exportCmd, childCmd)
}

// openDatabase connects using the loaded config and brings the schema up to date
func openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	applied, err := db.RunMigrations(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, name := range applied {
		log.Info("applied migration", zap.String("migration", name))
	}
	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
