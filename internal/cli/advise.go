package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/advisor"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	"github.com/canonica-labs/querio/pkg/models"
)

var (
	issueMarker      = color.New(color.FgRed, color.Bold)
	suggestionMarker = color.New(color.FgGreen, color.Bold)
	headingColor     = color.New(color.Bold)
)

// AdviseOptions holds the flags of the advise command.
type AdviseOptions struct {
	Offline      bool
	Remote       string
	Token        string
	Output       string
	FailOnIssues bool
}

func (c *CLI) newAdviseCmd() *cobra.Command {
	opts := &AdviseOptions{}

	cmd := &cobra.Command{
		Use:   "advise [SQL|-]",
		Short: "Advise on a SQL query",
		Long: `Inspect a SQL query and print issues, suggestions and an optimized
rewrite. The query is read from stdin when no argument or "-" is given.

When a plan source is configured, the engine's plan is added to the
advice. Use --offline to skip it.

Example:
  querio advise "SELECT * FROM users WHERE age + 1 > 30"
  cat report.sql | querio advise --output json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := c.readQuery(cmd, args)
			if err != nil {
				return err
			}
			return c.runAdvise(cmd.Context(), query, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip plan enrichment")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "querio server URL (default: remote.url)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "querio server token (default: remote.token)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", FormatText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&opts.FailOnIssues, "fail-on-issues", false, "exit with status 1 when any issue is reported")

	return cmd
}

// readQuery returns the argument, or stdin when it is absent or "-".
func (c *CLI) readQuery(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read query from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (c *CLI) runAdvise(ctx context.Context, query string, opts *AdviseOptions) error {
	format, err := c.format(opts.Output)
	if err != nil {
		return err
	}

	var resp *models.AdviseResponse
	if client := c.remoteClient(opts.Remote, opts.Token); client != nil {
		c.debugf("advising through %s\n", client.Endpoint())
		resp, err = client.Advise(ctx, query, opts.Offline)
	} else {
		resp, err = c.adviseLocally(ctx, query, opts.Offline)
	}
	if err != nil {
		return err
	}

	if format == FormatText {
		c.printAdvice(resp)
	} else if err := c.render(format, resp); err != nil {
		return err
	}

	if opts.FailOnIssues && len(resp.Issues) > 0 {
		return errors.NewQueryRejected(query, fmt.Sprintf("%d issue(s) reported", len(resp.Issues)))
	}
	return nil
}

// adviseLocally evaluates query in process, consulting the configured plan
// source unless offline.
func (c *CLI) adviseLocally(ctx context.Context, query string, offline bool) (*models.AdviseResponse, error) {
	enrich := c.cfg.PlanEnrichmentEnabled() && !offline

	var source adapters.PlanSource
	if enrich {
		var err error
		source, err = c.cfg.OpenPlanSource(c.registry, c.opts...)
		if err != nil {
			return nil, err
		}
	}

	audit, closer, err := observability.OpenAuditLogger(ctx, c.cfg.AuditSettings(), c.logger)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	adv := advisor.New(
		advisor.WithLogger(c.logger),
		advisor.WithAuditLogger(audit),
		advisor.WithPlanTimeout(c.cfg.Advisor.PlanTimeout),
	)
	d := adv.Evaluate(ctx, query, enrich, source)
	c.logger.Debug("advice ready", zap.String("advice_id", d.ID))

	resp := d.Response()
	return &resp, nil
}

func (c *CLI) printAdvice(resp *models.AdviseResponse) {
	w := c.out()

	headingColor.Fprintln(w, "Original Query:")
	fmt.Fprintf(w, "  %s\n\n", resp.Query)
	headingColor.Fprintln(w, "Optimized Query:")
	fmt.Fprintf(w, "  %s\n\n", resp.OptimizedQuery)

	headingColor.Fprintln(w, "Issues:")
	if len(resp.Issues) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, issue := range resp.Issues {
		issueMarker.Fprint(w, "  ✗ ")
		fmt.Fprintln(w, issue)
	}
	fmt.Fprintln(w)

	headingColor.Fprintln(w, "Suggestions:")
	if len(resp.Suggestions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range resp.Suggestions {
		suggestionMarker.Fprint(w, "  → ")
		fmt.Fprintln(w, s)
	}
	fmt.Fprintln(w)

	headingColor.Fprintln(w, "Explain Plan:")
	fmt.Fprintf(w, "  %s\n", planText(resp.ExplainPlan))
}

// planText renders the explain_plan value on one line.
func planText(plan any) string {
	switch p := plan.(type) {
	case string:
		return p
	case map[string]any:
		for _, key := range []string{"Node Type", "node_type", "name", "operation", "detail"} {
			if v, ok := p[key].(string); ok && v != "" {
				return v
			}
		}
	}
	if data, err := json.Marshal(plan); err == nil {
		return string(data)
	}
	return fmt.Sprint(plan)
}
