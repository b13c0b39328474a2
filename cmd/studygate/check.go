package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/studygate/studygate/internal/config"
	"github.com/studygate/studygate/internal/quota"
	"github.com/studygate/studygate/internal/storage"
)

var checkAt string

var checkCmd = &cobra.Command{
	Use:   "check [flags] USER_ID",
	Short: "Check the lockout verdict for a user",
	Long: `Check whether a user's session would run or lock if they signed in,
based on their persisted usage. The stored record is not modified.`,
	Example: `  studygate -c config.yaml check trainee-42
  studygate check --at 2025-03-11T08:00:00Z trainee-42`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkAt, "at", "", "Evaluate as of this RFC3339 time (defaults to now)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	userID := args[0]

	at := time.Now()
	if checkAt != "" {
		parsed, err := time.Parse(time.RFC3339, checkAt)
		if err != nil {
			return fmt.Errorf("invalid --at time (want RFC3339): %w", err)
		}
		at = parsed
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Quiet the global logger for check mode
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	snap, err := store.Snapshots().Load(context.Background(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fresh := quota.NewSnapshot(userID)
			snap = &fresh
		} else {
			return fmt.Errorf("failed to load usage for %s: %w", userID, err)
		}
	}

	limits := quota.Limits{
		DailyLimitSeconds: cfg.Limits.DailyLimitSeconds,
		MonthlyActiveDays: cfg.Limits.MonthlyActiveDays,
	}

	// Fold one heartbeat at the check time into a copy of the record so
	// day/month rollovers take effect, then evaluate. Nothing is persisted.
	tracker := quota.NewTracker(parseDuration(cfg.Tracking.GapCeiling, quota.DefaultGapCeiling))
	projected := tracker.ApplyHeartbeat(snap.Clone(), at)
	verdict := quota.Evaluate(projected, limits)

	printCheckResult(userID, at, projected, verdict, limits)

	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(userID string, at time.Time, snap quota.Snapshot, verdict quota.Verdict, limits quota.Limits) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("USAGE QUOTA CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("User:         %s\n", userID)
	fmt.Printf("Check Time:   %s\n", at.UTC().Format(time.RFC3339))
	fmt.Printf("Day:          %s\n", snap.CurrentDay)
	fmt.Printf("Month:        %s\n", snap.CurrentMonth)
	fmt.Printf("Time Used:    %ds of %ds today\n", snap.DailySecondsUsed, limits.DailyLimitSeconds)
	fmt.Printf("Active Days:  %d of %d this month\n", len(snap.ActiveDays), limits.MonthlyActiveDays)
	fmt.Println()

	cyan.Print("Verdict:      ")
	if verdict.Locked {
		red.Println("LOCKED")
		switch verdict.Reason {
		case quota.ReasonDailyTime:
			fmt.Println("              → Daily time budget is exhausted")
			fmt.Println("              → Unlocks at the next UTC midnight")
		case quota.ReasonMonthlyDays:
			fmt.Println("              → Monthly active-days budget is exhausted")
			fmt.Println("              → Unlocks on the first day of the next UTC month")
		}
	} else {
		green.Println("RUNNING")
		fmt.Printf("              → %d seconds remain in today's budget\n", verdict.SecondsRemainingToday)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
