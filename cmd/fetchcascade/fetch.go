package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fetchcascade/fetchcascade"
)

var (
	fetchURL        string
	fetchForceTier  string
	fetchTimeoutMs  int
	fetchNoValidate bool
	fetchNoLearning bool
)

var fetchCommand = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a single URL through the tier cascade",
	Run:   fetchFunc,
}

func init() {
	fetchCommand.Flags().StringVarP(&fetchURL, "url", "u", "", "URL to fetch")
	fetchCommand.Flags().StringVarP(&fetchForceTier, "tier", "t", "",
		"Force a specific tier: intelligence, lightweight, playwright")
	fetchCommand.Flags().IntVarP(&fetchTimeoutMs, "timeout-ms", "T", 0,
		fmt.Sprintf("Per-tier and overall timeout in milliseconds (default %d)", fetchcascade.DefaultPerURLTimeoutMs))
	fetchCommand.Flags().BoolVar(&fetchNoValidate, "no-validate", false, "Skip content validation")
	fetchCommand.Flags().BoolVar(&fetchNoLearning, "no-learning", false, "Skip domain learning store bias")
	RootCommand.AddCommand(fetchCommand)
}

func fetchFunc(cmd *cobra.Command, args []string) {
	if fetchURL == "" {
		fmt.Fprintln(os.Stderr, "fetchcascade fetch: --url/-u is required")
		os.Exit(1)
	}

	core := newCore()
	defer core.Flush()

	opts := fetchcascade.DefaultFetchOptions()
	opts.ValidateContent = !fetchNoValidate
	opts.EnableLearning = !fetchNoLearning
	if fetchTimeoutMs > 0 {
		opts.PerTierTimeoutMs = fetchTimeoutMs
		opts.TimeoutMs = fetchTimeoutMs
	}
	if fetchForceTier != "" {
		tier, err := fetchcascade.ParseTier(fetchForceTier)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetchcascade fetch: %v\n", err)
			os.Exit(1)
		}
		opts.ForceTier = &tier
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.TimeoutMs)*time.Millisecond)
	defer cancel()

	result := core.Fetch(ctx, fetchURL, opts)
	printJSON(result)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "fetchcascade: could not encode result: %v\n", err)
		os.Exit(1)
	}
}
