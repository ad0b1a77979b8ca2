package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fetchcascade/fetchcascade"
)

var (
	batchURLs                string
	batchFile                string
	batchConcurrency         int
	batchPerURLTimeoutMs     int
	batchTotalTimeoutMs      int
	batchStopOnError         bool
	batchSuppressContinue    bool
)

var batchCommand = &cobra.Command{
	Use:   "batch",
	Short: "Fetch many URLs concurrently through the tier cascade",
	Run:   batchFunc,
}

func init() {
	batchCommand.Flags().StringVar(&batchURLs, "urls", "", "Comma-separated list of URLs to fetch")
	batchCommand.Flags().StringVarP(&batchFile, "file", "f", "", "File of URLs, one per line")
	batchCommand.Flags().IntVar(&batchConcurrency, "concurrency", 0, "Max concurrent fetches (defaults to config)")
	batchCommand.Flags().IntVar(&batchPerURLTimeoutMs, "per-url-timeout-ms", 0, "Per-URL timeout in milliseconds")
	batchCommand.Flags().IntVar(&batchTotalTimeoutMs, "total-timeout-ms", 0, "Total batch timeout in milliseconds, 0 for none")
	batchCommand.Flags().BoolVar(&batchStopOnError, "stop-on-error", false, "Stop launching new fetches after the first non-success result")
	batchCommand.Flags().BoolVar(&batchSuppressContinue, "no-continue-on-rate-limit", false, "Treat rate-limited URLs as errors instead of continuing")
	RootCommand.AddCommand(batchCommand)
}

func batchFunc(cmd *cobra.Command, args []string) {
	urls, err := collectBatchURLs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetchcascade batch: %v\n", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "fetchcascade batch: no URLs given; use --urls or --file")
		os.Exit(1)
	}

	core := newCore()
	defer core.Flush()

	fetchOpts := fetchcascade.DefaultFetchOptions()

	batchOpts := fetchcascade.DefaultBatchOptions()
	batchOpts.Concurrency = fetchcascade.Config.Batch.DefaultConcurrency
	if batchConcurrency > 0 {
		batchOpts.Concurrency = batchConcurrency
	}
	if batchPerURLTimeoutMs > 0 {
		batchOpts.PerURLTimeoutMs = batchPerURLTimeoutMs
	}
	batchOpts.TotalTimeoutMs = batchTotalTimeoutMs
	batchOpts.StopOnError = batchStopOnError
	batchOpts.ContinueOnRateLimit = !batchSuppressContinue

	// The orchestrator applies TotalTimeoutMs itself, to queued URLs only.
	ctx := context.Background()

	results := core.BatchBrowse(ctx, urls, fetchOpts, batchOpts)
	printJSON(results)
}

func collectBatchURLs() ([]string, error) {
	var urls []string
	if batchURLs != "" {
		for _, u := range strings.Split(batchURLs, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
	}
	if batchFile != "" {
		f, err := os.Open(batchFile)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", batchFile, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				urls = append(urls, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("could not read %s: %w", batchFile, err)
		}
	}
	return urls, nil
}
