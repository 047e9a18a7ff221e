// Package cmd implements the operator CLI: one-shot health, smoke, and
// correlation runs plus issue queries, with colorized terminal output.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"watchtower/bootstrap"
	"watchtower/config"
	"watchtower/core"
)

var (
	statusGreen  = color.New(color.FgGreen)
	statusYellow = color.New(color.FgYellow)
	statusRed    = color.New(color.FgRed, color.Bold)
	headline     = color.New(color.Bold)
)

// IsCLICommand reports whether the first argument selects an operator
// subcommand rather than the server.
func IsCLICommand(arg string) bool {
	switch arg {
	case "check", "smoke", "correlate", "issues":
		return true
	}
	return false
}

// NewOpsCmd builds the operator CLI root.
func NewOpsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "watchtower",
		Short:         "Operational health monitoring for the booking platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCheckCmd(), newSmokeCmd(), newCorrelateCmd(), newIssuesCmd())
	return root
}

// withApp loads config, wires the app, runs fn, and tears down.
func withApp(fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	_, sugar, err := bootstrap.InitLogger()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	app, err := bootstrap.NewApp(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	return fn(ctx, app)
}

func newCheckCmd() *cobra.Command {
	var quick bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a health check and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				var report *core.HealthReport
				if quick {
					report = app.Reporter.RunQuick(ctx)
				} else {
					report = app.Reporter.RunFull(ctx)
				}
				printHealthReport(report)
				if report.Overall.Rank() >= core.StatusUnhealthy.Rank() {
					os.Exit(1)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&quick, "quick", false, "run only the quick probe subset")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run the read-only smoke-test suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				report := app.Smoke.Run(ctx)
				printSmokeReport(report)
				if _, failed := report.Totals(); failed > 0 {
					os.Exit(1)
				}
				return nil
			})
		},
	}
}

func newCorrelateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correlate",
		Short: "Run the correlation heuristics and print findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				report := app.Correlate.Run(ctx)
				printCorrelationReport(report)
				return nil
			})
		},
	}
}

func newIssuesCmd() *cobra.Command {
	var agent, category string
	var breaches bool

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List open issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				var issues []core.AgentIssue
				var err error
				if breaches {
					issues, err = app.Tracker.SLABreaches(ctx)
				} else {
					issues, err = app.Tracker.OpenIssues(ctx, core.IssueFilters{AgentName: agent, Category: category})
				}
				if err != nil {
					return err
				}
				printIssues(issues, breaches)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().BoolVar(&breaches, "sla-breaches", false, "show only issues past their SLA deadline")
	return cmd
}

func statusPrinter(status core.Status) *color.Color {
	switch status {
	case core.StatusHealthy:
		return statusGreen
	case core.StatusDegraded, core.StatusWarning:
		return statusYellow
	default:
		return statusRed
	}
}

func printHealthReport(report *core.HealthReport) {
	headline.Printf("Overall: ")
	statusPrinter(report.Overall).Printf("%s", report.Overall)
	fmt.Printf("  (%d checks in %dms)\n\n", report.Summary.TotalChecks, report.ExecutionMS)

	for _, cat := range report.Categories {
		statusPrinter(cat.Status).Printf("  %-10s %s\n", cat.Category, cat.Status)
		for _, check := range cat.Checks {
			if check.Status == core.StatusHealthy {
				continue
			}
			fmt.Printf("    - %s: %s", check.Name, check.Status)
			if check.Err != "" {
				fmt.Printf(" (%s)", check.Err)
			}
			fmt.Println()
		}
	}
}

func printSmokeReport(report *core.SmokeTestReport) {
	for _, dest := range report.Destinations {
		headline.Printf("%s\n", dest.DestinationID)
		for _, result := range dest.Results {
			printSmokeResult(result)
		}
	}

	headline.Println("shared infrastructure")
	for _, result := range report.Shared {
		printSmokeResult(result)
	}

	for _, check := range report.ConfigChecks {
		if check.State == core.ConfigCheckConfigured {
			statusGreen.Printf("  %s: %s\n", check.Channel, check.State)
		} else {
			statusYellow.Printf("  %s: %s (missing %v)\n", check.Channel, check.State, check.Missing)
		}
	}

	passed, failed := report.Totals()
	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
}

func printSmokeResult(result core.SmokeResult) {
	switch result.Outcome {
	case core.SmokePassed:
		statusGreen.Printf("  PASS  %s (%dms)\n", result.Name, result.DurationMS)
	case core.SmokeSkipped:
		statusYellow.Printf("  SKIP  %s\n", result.Name)
	default:
		statusRed.Printf("  FAIL  %s: %s\n", result.Name, result.Err)
	}
}

func printCorrelationReport(report *core.CorrelationReport) {
	if len(report.Correlations) == 0 && len(report.Insights) == 0 {
		statusGreen.Println("No correlations or insights found")
		return
	}

	for _, c := range report.Correlations {
		statusRed.Printf("[%s] %s\n", c.Severity, c.Kind)
		fmt.Printf("  agents: %v\n  %s\n", c.Agents, c.Description)
	}
	for _, insight := range report.Insights {
		statusYellow.Printf("[%s] %s\n", insight.Severity, insight.Kind)
		fmt.Printf("  %s\n", insight.Description)
	}
}

func printIssues(issues []core.AgentIssue, breaches bool) {
	if len(issues) == 0 {
		statusGreen.Println("No open issues")
		return
	}

	for _, issue := range issues {
		printer := statusYellow
		if issue.Severity == core.SeverityCritical || issue.Severity == core.SeverityHigh {
			printer = statusRed
		}
		printer.Printf("%s  [%s/%s]", issue.IssueID, issue.Severity, issue.Status)
		fmt.Printf("  %s  (x%d, agent %s)", issue.Title, issue.OccurrenceCount, issue.AgentName)
		if breaches && issue.SLATarget != nil {
			fmt.Printf("  SLA missed %s", issue.SLATarget.Format(time.RFC3339))
		}
		fmt.Println()
	}
}
