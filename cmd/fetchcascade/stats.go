package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/usage"
)

var statsCommand = &cobra.Command{
	Use:   "stats",
	Short: "Query the usage, performance and pattern health stores",
}

func init() {
	RootCommand.AddCommand(statsCommand)
}

var (
	statsUsageDomain string
	statsUsagePeriod string
	statsUsageTopN   int
)

var statsUsageCommand = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded usage events",
	Run:   statsUsageFunc,
}

func init() {
	statsUsageCommand.Flags().StringVar(&statsUsageDomain, "domain", "", "Restrict to one domain")
	statsUsageCommand.Flags().StringVar(&statsUsagePeriod, "period", "day", "hour, day, week, month or all")
	statsUsageCommand.Flags().IntVar(&statsUsageTopN, "top", 10, "Number of top domains to include")
	statsCommand.AddCommand(statsUsageCommand)
}

func statsUsageFunc(cmd *cobra.Command, args []string) {
	core := newCore()
	defer core.Flush()

	filter := usage.Filter{
		Domain: statsUsageDomain,
		Period: usage.Period(statsUsagePeriod),
	}
	printJSON(core.Usage.Summarize(filter, statsUsageTopN))
}

var (
	statsPerfDomain string
	statsPerfTopN   int
)

var statsPerfCommand = &cobra.Command{
	Use:   "perf",
	Short: "Print per-tier latency percentiles for a domain, or system-wide if --domain is omitted",
	Run:   statsPerfFunc,
}

func init() {
	statsPerfCommand.Flags().StringVar(&statsPerfDomain, "domain", "", "Domain to query; omit for system-wide stats")
	statsPerfCommand.Flags().IntVar(&statsPerfTopN, "top", 10, "Number of fastest/slowest domains to include (system-wide only)")
	statsCommand.AddCommand(statsPerfCommand)
}

func statsPerfFunc(cmd *cobra.Command, args []string) {
	core := newCore()
	defer core.Flush()

	if statsPerfDomain != "" {
		perTier, overall := core.Perf.GetDomainPerformance(statsPerfDomain)
		breakdown := core.Perf.GetComponentBreakdown(statsPerfDomain)
		printJSON(struct {
			Domain    string      `json:"domain"`
			Overall   interface{} `json:"overall"`
			PerTier   interface{} `json:"perTier"`
			Breakdown interface{} `json:"componentBreakdown"`
		}{statsPerfDomain, overall, perTier, breakdown})
		return
	}

	overall, fastest, slowest := core.Perf.GetSystemPerformance(statsPerfTopN)
	printJSON(struct {
		Overall interface{} `json:"overall"`
		Fastest interface{} `json:"fastest"`
		Slowest interface{} `json:"slowest"`
	}{overall, fastest, slowest})
}

var statsHealthCommand = &cobra.Command{
	Use:   "health",
	Short: "List unhealthy (domain, endpoint) patterns",
	Run:   statsHealthFunc,
}

func init() {
	statsCommand.AddCommand(statsHealthCommand)
}

func statsHealthFunc(cmd *cobra.Command, args []string) {
	core := newCore()
	defer core.Flush()

	unhealthy := core.Health.GetUnhealthyPatterns()
	if len(unhealthy) == 0 {
		fmt.Fprintln(os.Stderr, "no unhealthy patterns observed")
	}
	printJSON(struct {
		Unhealthy  interface{}            `json:"unhealthy"`
		Statistics map[string]int         `json:"statistics"`
	}{unhealthy, statusCounts(core)})
}

func statusCounts(core *fetchcascade.Core) map[string]int {
	out := make(map[string]int)
	for status, count := range core.Health.Statistics() {
		out[string(status)] = count
	}
	return out
}
