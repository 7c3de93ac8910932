package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// ServerInfo is what the configured server reported, if anything.
type ServerInfo struct {
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	Status     string `json:"status" yaml:"status"`
}

// VersionReport is the output of the version command.
type VersionReport struct {
	BuildInfo `yaml:",inline"`
	Server    ServerInfo `json:"server" yaml:"server"`
}

func currentBuild() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// versionLine is shown by --version.
func versionLine() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
}

func (c *CLI) newVersionCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display build information and, when remote.url is set, the server's version.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVersion(cmd.Context(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", FormatText, "output format: text, json or yaml")
	return cmd
}

func (c *CLI) runVersion(ctx context.Context, output string) error {
	format, err := c.format(output)
	if err != nil {
		return err
	}

	report := VersionReport{BuildInfo: currentBuild(), Server: c.serverInfo(ctx)}
	if format != FormatText {
		return c.render(format, report)
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.out())
	t.SetStyle(table.StyleLight)
	t.SetTitle("querio CLI")
	t.AppendRows([]table.Row{
		{"Version", report.Version},
		{"Git Commit", report.GitCommit},
		{"Build Date", report.BuildDate},
		{"Go Version", report.GoVersion},
		{"Platform", report.Platform},
	})
	t.AppendSeparator()
	if report.Server.Version != "" {
		t.AppendRow(table.Row{"Server", fmt.Sprintf("%s (api %s)", report.Server.Version, report.Server.APIVersion)})
	}
	t.AppendRow(table.Row{"Server Status", report.Server.Status})
	t.Render()
	return nil
}

func (c *CLI) serverInfo(ctx context.Context) ServerInfo {
	client := c.remoteClient("", "")
	if client == nil {
		return ServerInfo{Status: "not configured"}
	}
	v, err := client.Version(ctx)
	if err != nil {
		c.debugf("version request to %s failed: %v\n", client.Endpoint(), err)
		return ServerInfo{Status: "unavailable"}
	}
	return ServerInfo{Version: v.Version, APIVersion: v.APIVersion, Status: "ok"}
}
