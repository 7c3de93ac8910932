package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// SourceInfo describes one registered plan source driver.
type SourceInfo struct {
	Driver     string `json:"driver" yaml:"driver"`
	Configured bool   `json:"configured" yaml:"configured"`
}

func (c *CLI) newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Plan source commands",
		Long:  `Inspect the engines querio can ask for execution plans.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List plan source drivers",
		Long: `List every registered plan source driver and mark the configured one.

Example:
  querio sources list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSourcesList()
		},
	})

	return cmd
}

func (c *CLI) runSourcesList() error {
	configured := c.cfg.PlanSource.EffectiveDriver()

	infos := make([]SourceInfo, 0)
	for _, driver := range c.registry.Available() {
		infos = append(infos, SourceInfo{Driver: driver, Configured: driver == configured})
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]any{
			"sources":    infos,
			"configured": configured,
		})
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.out())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Driver", "Configured"})
	for _, info := range infos {
		mark := ""
		if info.Configured {
			mark = "✓"
		}
		t.AppendRow(table.Row{info.Driver, mark})
	}
	t.Render()

	if configured == "" {
		c.println("No plan source configured; advice runs without EXPLAIN.")
	}
	return nil
}
