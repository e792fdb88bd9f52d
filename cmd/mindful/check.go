package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/mindful/internal/cache"
	"github.com/goodtune/mindful/internal/config"
	"github.com/goodtune/mindful/internal/site"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check URL",
	Short: "Check whether a page would be blocked right now",
	Long:  `Check the limit that applies to a URL and whether its tabs would be blocked with today's usage.`,
	Example: `  mindful check https://www.youtube.com/watch?v=dQw4w9WgXcQ
  mindful -c config.yaml check https://news.ycombinator.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	rawURL := args[0]

	hostname, err := site.Hostname(rawURL)
	if errors.Is(err, site.ErrUnsupportedScheme) {
		return fmt.Errorf("only http and https pages are tracked: %s", rawURL)
	}
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	// Load configuration
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

	// Same lookup path as enforcement
	ctx := context.Background()
	limits := cache.New(store.Limits(), logger)
	if err := limits.Load(ctx); err != nil {
		return err
	}
	record, tracked := limits.Get(ctx, hostname)

	printCheckResult(rawURL, hostname, record, tracked, time.Now())
	return nil
}

// printCheckResult prints the check result with colors
func printCheckResult(rawURL, hostname string, record storage.LimitRecord, tracked bool, now time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("TIME LIMIT CHECK")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:        %s\n", rawURL)
	fmt.Printf("Site:       %s\n", hostname)
	fmt.Printf("Check Time: %s\n", now.Format("2006-01-02 15:04"))
	fmt.Println()

	if !tracked {
		_, _ = cyan.Print("Decision:   ")
		_, _ = green.Println("ALLOW")
		fmt.Println("            → No limit configured for this site")
		fmt.Println()
		_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		return
	}

	fmt.Printf("Limit:      %s minutes\n", storage.FormatMinutes(record.Limit))
	fmt.Printf("Spent:      %s minutes\n", storage.FormatMinutes(record.TimeSpent))
	fmt.Printf("Remaining:  %s minutes\n", storage.FormatMinutes(record.Remaining()))
	fmt.Printf("Last Reset: %s\n", record.LastReset)
	if record.LastReset != storage.DateStamp(now) {
		_, _ = yellow.Println("            → Usage is from an earlier day and resets at the next rollover")
	}
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	if record.Exceeded() {
		_, _ = red.Println("BLOCK")
		fmt.Println("            → Tabs of this site will show the block page")
	} else {
		_, _ = green.Println("ALLOW")
		fmt.Println("            → Time on this site counts against the limit")
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
