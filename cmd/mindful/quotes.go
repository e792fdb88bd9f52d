package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/goodtune/mindful/internal/settings"
	"github.com/goodtune/mindful/internal/storage"
	"github.com/spf13/cobra"
)

var quoteAuthor string

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Manage the quotes shown on the block page",
}

var quotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quotes with their index",
	Args:  cobra.NoArgs,
	RunE:  runQuotesList,
}

var quotesAddCmd = &cobra.Command{
	Use:     "add TEXT",
	Short:   "Add a quote",
	Example: `  mindful quotes add "Lost time is never found again." --author "Benjamin Franklin"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runQuotesAdd,
}

var quotesRemoveCmd = &cobra.Command{
	Use:     "remove INDEX",
	Aliases: []string{"rm"},
	Short:   "Remove the quote at INDEX",
	Long:    `Remove the quote at INDEX, as shown by "quotes list". Removing the last quote restores the default set.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runQuotesRemove,
}

func init() {
	quotesAddCmd.Flags().StringVar(&quoteAuthor, "author", "", "Who said it")
	quotesCmd.AddCommand(quotesListCmd)
	quotesCmd.AddCommand(quotesAddCmd)
	quotesCmd.AddCommand(quotesRemoveCmd)
	rootCmd.AddCommand(quotesCmd)
}

func runQuotesList(cmd *cobra.Command, args []string) error {
	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		quotes, err := svc.ListQuotes(ctx)
		if err != nil {
			return err
		}
		printQuotes(quotes)
		return nil
	})
}

func runQuotesAdd(cmd *cobra.Command, args []string) error {
	quote := storage.Quote{Text: args[0], Author: quoteAuthor}

	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		quotes, err := svc.AddQuote(ctx, quote)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✅ Quote added (%d total)\n", len(quotes))
		return nil
	})
}

func runQuotesRemove(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index: %s", args[0])
	}

	return withSettings(func(ctx context.Context, svc *settings.Service) error {
		quotes, err := svc.RemoveQuote(ctx, index)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✅ Quote removed (%d remaining)\n", len(quotes))
		return nil
	})
}

func printQuotes(quotes []storage.Quote) {
	dim := color.New(color.Faint)
	for i, q := range quotes {
		fmt.Printf("%3d  %s\n", i, q.Text)
		if q.Author != "" {
			_, _ = dim.Printf("     - %s\n", q.Author)
		}
	}
}
