package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/storage"
)

// probeTimeout bounds each diagnostic probe.
const probeTimeout = 10 * time.Second

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run system diagnostics.

Checks:
  - configuration validity
  - plan source reachability (retried on transient failures)
  - audit store reachability
  - remote server health, when remote.url is set`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor(cmd.Context())
		},
	}
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	err error
}

func (c *CLI) runDoctor(ctx context.Context) error {
	probes := []func(context.Context) DiagnosticCheck{
		c.checkConfig,
		c.checkPlanSource,
		c.checkAuditStore,
		c.checkRemote,
	}

	checks := make([]DiagnosticCheck, len(probes))
	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			checks[i] = probe(probeCtx)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	allPassed := true
	for _, check := range checks {
		if !check.Passed {
			allPassed = false
			if firstErr == nil {
				firstErr = check.err
			}
		}
	}

	if c.jsonOutput {
		if err := c.outputJSON(map[string]any{
			"checks":     checks,
			"all_passed": allPassed,
		}); err != nil {
			return err
		}
		return firstErr
	}

	c.println("querio diagnostics")
	c.println("==================")
	c.println("")
	for _, check := range checks {
		c.printCheck(check)
	}
	c.println("")

	if allPassed {
		c.println("✓ All checks passed")
	} else {
		c.println("✗ Some checks failed - see above for details")
	}
	return firstErr
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func failed(check DiagnosticCheck, message string, err error) DiagnosticCheck {
	check.Passed = false
	check.Message = message
	check.Details = errors.Summarize(err)
	check.err = err
	return check
}

func (c *CLI) checkConfig(context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}

	if err := c.cfg.Validate(c.registry); err != nil {
		return failed(check, "Invalid configuration", err)
	}

	check.Passed = true
	check.Message = fmt.Sprintf("Valid (env: %s, plan enrichment: %v)", c.cfg.Env, c.cfg.PlanEnrichmentEnabled())
	return check
}

func (c *CLI) checkPlanSource(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Plan Source"}

	source, err := c.cfg.OpenPlanSource(c.registry, c.opts...)
	if err != nil {
		return failed(check, "Cannot open plan source", err)
	}
	if source == nil {
		check.Passed = true
		check.Message = "Not configured (advice runs without EXPLAIN)"
		return check
	}

	report := adapters.Retry(ctx, adapters.DefaultBackoff(), source.Ping)
	if !report.OK() {
		return failed(check, fmt.Sprintf("%s unreachable after %d attempt(s)", source.Name(), report.Attempts), report.Err)
	}

	check.Passed = true
	check.Message = fmt.Sprintf("%s reachable (%s)", source.Name(), report)
	return check
}

func (c *CLI) checkAuditStore(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Audit Store"}

	if !c.cfg.Audit.Enabled {
		check.Passed = true
		check.Message = "Disabled (advice is audited to the log only)"
		return check
	}

	store, err := storage.Open(ctx, c.cfg.Audit.Driver, c.cfg.Audit.DSN)
	if err != nil {
		return failed(check, "Cannot open audit store", err)
	}
	defer store.Close()

	check.Passed = true
	check.Message = fmt.Sprintf("%s store ready, migrations applied", c.cfg.Audit.Driver)
	return check
}

func (c *CLI) checkRemote(ctx context.Context) DiagnosticCheck {
	check := DiagnosticCheck{Name: "Remote Server"}

	client := c.remoteClient("", "")
	if client == nil {
		check.Passed = true
		check.Message = "Not configured (advice runs locally)"
		return check
	}

	if err := client.CheckHealth(ctx); err != nil {
		return failed(check, "Cannot reach "+client.Endpoint(), err)
	}

	check.Passed = true
	check.Message = "Healthy at " + client.Endpoint()
	return check
}
