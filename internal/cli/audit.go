package cli

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
)

// AuditSummaryOptions holds the flags of the audit summary command.
type AuditSummaryOptions struct {
	Window time.Duration
	Remote string
	Token  string
	Output string
}

func (c *CLI) newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail commands",
		Long:  `Report on the advice recorded in the audit trail.`,
	}

	opts := &AuditSummaryOptions{}
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize recent advice",
		Long: `Show aggregate counts for the advice recorded in a trailing window:
totals, invalid queries, plan outcomes, and the most frequent issues and
tables. Query text is never shown.

Reads the local audit store, or the server given by --remote or remote.url.

Example:
  querio audit summary --window 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAuditSummary(cmd.Context(), opts)
		},
	}
	summaryCmd.Flags().DurationVar(&opts.Window, "window", 24*time.Hour, "trailing window to summarize")
	summaryCmd.Flags().StringVar(&opts.Remote, "remote", "", "querio server URL (default: remote.url)")
	summaryCmd.Flags().StringVar(&opts.Token, "token", "", "querio server token (default: remote.token)")
	summaryCmd.Flags().StringVarP(&opts.Output, "output", "o", FormatText, "output format: text, json or yaml")

	cmd.AddCommand(summaryCmd)
	return cmd
}

func (c *CLI) runAuditSummary(ctx context.Context, opts *AuditSummaryOptions) error {
	if opts.Window <= 0 {
		return errors.NewInvalidRequest("window", "must be a positive duration such as 24h")
	}
	format, err := c.format(opts.Output)
	if err != nil {
		return err
	}

	var summary *observability.AuditSummary
	if client := c.remoteClient(opts.Remote, opts.Token); client != nil {
		summary, err = client.AuditSummary(ctx, opts.Window)
	} else {
		summary, err = c.localAuditSummary(ctx, opts.Window)
	}
	if err != nil {
		return err
	}

	if format != FormatText {
		return c.render(format, summary)
	}
	c.printAuditSummary(summary, opts.Window)
	return nil
}

func (c *CLI) localAuditSummary(ctx context.Context, window time.Duration) (*observability.AuditSummary, error) {
	if !c.cfg.Audit.Enabled {
		return nil, errors.NewInvalidConfig("audit.enabled",
			"the audit store is disabled; enable it or pass --remote")
	}

	audit, closer, err := observability.OpenAuditLogger(ctx, c.cfg.AuditSettings(), c.logger)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return audit.Summary(ctx, time.Now().Add(-window))
}

func (c *CLI) printAuditSummary(s *observability.AuditSummary, window time.Duration) {
	c.printf("Advice in the last %s (since %s)\n\n", window, s.Since.Format(time.RFC3339))

	totals := table.NewWriter()
	totals.SetOutputMirror(c.out())
	totals.SetStyle(table.StyleLight)
	totals.AppendHeader(table.Row{"Metric", "Count"})
	totals.AppendRows([]table.Row{
		{"Total advice", s.TotalAdvice},
		{"Invalid queries", s.InvalidQueries},
		{"Plans available", s.PlanAvailable},
		{"Plans failed", s.PlanFailed},
	})
	totals.Render()

	if len(s.TopIssues) > 0 {
		c.println("")
		issues := table.NewWriter()
		issues.SetOutputMirror(c.out())
		issues.SetStyle(table.StyleLight)
		issues.AppendHeader(table.Row{"Top Issues", "Count"})
		for _, stat := range s.TopIssues {
			issues.AppendRow(table.Row{stat.Issue, stat.Count})
		}
		issues.Render()
	}

	if len(s.TopTables) > 0 {
		c.println("")
		tables := table.NewWriter()
		tables.SetOutputMirror(c.out())
		tables.SetStyle(table.StyleLight)
		tables.AppendHeader(table.Row{"Top Tables", "Count"})
		for _, stat := range s.TopTables {
			tables.AppendRow(table.Row{stat.Table, stat.Count})
		}
		tables.Render()
	}
}
