package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/studygate/studygate/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Load and validate the configuration file without starting the server.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed, color.Bold).Printf("Configuration invalid: %v\n", err)
		return err
	}

	color.New(color.FgGreen, color.Bold).Printf("Configuration valid: %s\n", configPath)
	fmt.Println()
	fmt.Printf("API:           %s:%d\n", cfg.Server.BindAddress, cfg.Server.APIPort)
	fmt.Printf("Metrics:       %s:%d\n", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	fmt.Printf("Daily limit:   %d seconds\n", cfg.Limits.DailyLimitSeconds)
	fmt.Printf("Monthly limit: %d active days\n", cfg.Limits.MonthlyActiveDays)
	fmt.Printf("Tick interval: %s\n", cfg.Tracking.TickInterval)
	fmt.Printf("Gap ceiling:   %s\n", cfg.Tracking.GapCeiling)
	fmt.Printf("Storage:       %s\n", cfg.Storage.Type)
	switch cfg.Storage.Type {
	case "redis":
		fmt.Printf("Redis:         %s:%d (db %d)\n", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.DB)
	case "bolt":
		fmt.Printf("Bolt path:     %s\n", cfg.Storage.Bolt.Path)
	}

	return nil
}
