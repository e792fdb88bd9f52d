package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/goodtune/mindful/internal/config"
	"github.com/goodtune/mindful/internal/settings"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/spf13/cobra"
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage daily site limits",
	Long: `Manage the daily time limits stored in the configured backend. Changes
made here reach a running daemon through the storage change feed.`,
}

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured limits and today's usage",
	Args:  cobra.NoArgs,
	RunE:  runLimitsList,
}

var limitsAddCmd = &cobra.Command{
	Use:   "add SITE MINUTES",
	Short: "Set the daily limit for a site",
	Long:  `Set the daily limit for a site. An existing limit is replaced and today's usage starts again from zero.`,
	Example: `  mindful limits add youtube.com 30
  mindful limits add https://www.reddit.com/r/golang 15.5`,
	Args: cobra.ExactArgs(2),
	RunE: runLimitsAdd,
}

var limitsRemoveCmd = &cobra.Command{
	Use:     "remove SITE",
	Aliases: []string{"rm"},
	Short:   "Remove the limit for a site",
	Args:    cobra.ExactArgs(1),
	RunE:    runLimitsRemove,
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset [SITE]",
	Short: "Zero today's usage for a site, or for every site",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLimitsReset,
}

func init() {
	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsAddCmd)
	limitsCmd.AddCommand(limitsRemoveCmd)
	limitsCmd.AddCommand(limitsResetCmd)
	rootCmd.AddCommand(limitsCmd)
}

// withSettings opens the configured store and hands a settings service to
// fn. There is no browser attached, so no tabs are notified.
func withSettings(fn func(ctx context.Context, svc *settings.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := quietLogger()
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	svc := settings.NewService(store.Limits(), nil, store.Quotes(), nil, nil, logger)
	return fn(context.Background(), svc)
}

func runLimitsList(cmd *cobra.Command, args []string) error {
	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		limits, err := svc.ListLimits(ctx)
		if err != nil {
			return err
		}
		printLimits(limits)
		return nil
	})
}

func runLimitsAdd(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid minutes: %s", args[1])
	}

	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		added, err := svc.SetLimit(ctx, args[0], minutes)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✅ %s limited to %s minutes per day\n", added.Site, storage.FormatMinutes(added.Limit))
		return nil
	})
}

func runLimitsRemove(cmd *cobra.Command, args []string) error {
	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		if err := svc.RemoveLimit(ctx, args[0]); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✅ Limit removed: %s\n", args[0])
		return nil
	})
}

func runLimitsReset(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		if err := svc.ResetLimit(ctx, name); err != nil {
			return err
		}
		if name == "" {
			name = "all sites"
		}
		color.New(color.FgGreen).Printf("✅ Usage reset: %s\n", name)
		return nil
	})
}

// printLimits prints one row per site, over-limit sites in red
func printLimits(limits []settings.SiteLimit) {
	if len(limits) == 0 {
		fmt.Println("No limits configured.")
		return
	}

	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Printf("%-32s %8s %8s %10s  %s\n", "SITE", "LIMIT", "SPENT", "REMAINING", "LAST RESET")
	for _, l := range limits {
		line := fmt.Sprintf("%-32s %8s %8s %10s  %s",
			l.Site,
			storage.FormatMinutes(l.Limit),
			storage.FormatMinutes(l.TimeSpent),
			storage.FormatMinutes(l.Remaining()),
			l.LastReset,
		)
		if l.Exceeded() {
			_, _ = red.Println(line)
		} else {
			_, _ = green.Println(line)
		}
	}
}
