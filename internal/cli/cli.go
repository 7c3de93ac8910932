// Package cli provides the command-line interface for querio.
// The CLI advises on SQL queries locally or through a running server, and
// inspects the configured plan sources and audit trail.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/adapters/sources"
	"github.com/canonica-labs/querio/internal/config"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd  *cobra.Command
	cfg      *config.Config
	registry *adapters.SourceRegistry
	logger   *zap.Logger
	opts     []adapters.Option

	// Global flags
	configPath string
	jsonOutput bool
	quiet      bool
	debug      bool
}

// Option configures a CLI.
type Option func(*CLI)

// WithRegistry replaces the built-in plan source registry.
func WithRegistry(r *adapters.SourceRegistry) Option {
	return func(c *CLI) {
		c.registry = r
	}
}

// WithSourceOptions are passed to every plan source the CLI opens.
func WithSourceOptions(opts ...adapters.Option) Option {
	return func(c *CLI) {
		c.opts = append(c.opts, opts...)
	}
}

// WithIO redirects the command streams.
func WithIO(in io.Reader, out, errOut io.Writer) Option {
	return func(c *CLI) {
		c.rootCmd.SetIn(in)
		c.rootCmd.SetOut(out)
		c.rootCmd.SetErr(errOut)
	}
}

// New creates a new CLI instance.
func New(opts ...Option) *CLI {
	c := &CLI{
		registry: sources.NewRegistry(),
		logger:   zap.NewNop(),
	}
	c.rootCmd = c.newRootCmd()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the CLI with args and returns the process exit code.
func (c *CLI) Execute(ctx context.Context, args []string) int {
	c.rootCmd.SetArgs(args)
	err := c.rootCmd.ExecuteContext(ctx)
	if err != nil {
		c.errorf("querio: %s\n", err)
	}
	_ = c.logger.Sync()
	return errors.ExitCode(err)
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "querio",
		Short: "querio - SQL query advisor",
		Long: `querio inspects SQL queries for common performance anti-patterns.

It reports:
  • SELECT * projections
  • non-sargable arithmetic in WHERE
  • missing filters and repeated JOINs
  • the engine's own plan, when a plan source is configured`,
		Version:       versionLine(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default: ./querio.yaml or ~/.querio/querio.yaml)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newAdviseCmd())
	cmd.AddCommand(c.newSourcesCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newAuditCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return errors.NewInvalidConfig("config", err.Error())
	}
	c.cfg = cfg

	if c.debug {
		c.cfg.Logging.Level = "debug"
	}
	if c.quiet {
		return nil
	}
	logger, err := observability.NewLogger(c.cfg.Logging)
	if err != nil {
		return errors.NewInvalidConfig("logging", err.Error())
	}
	c.logger = logger
	return nil
}

// Helper functions for output

func (c *CLI) out() io.Writer {
	return c.rootCmd.OutOrStdout()
}

func (c *CLI) printf(format string, args ...any) {
	if !c.quiet {
		fmt.Fprintf(c.out(), format, args...)
	}
}

func (c *CLI) println(args ...any) {
	if !c.quiet {
		fmt.Fprintln(c.out(), args...)
	}
}

func (c *CLI) errorf(format string, args ...any) {
	fmt.Fprintf(c.rootCmd.ErrOrStderr(), format, args...)
}

func (c *CLI) debugf(format string, args ...any) {
	if c.debug {
		fmt.Fprintf(c.rootCmd.ErrOrStderr(), "[DEBUG] "+format, args...)
	}
}

// format resolves a per-command --output flag against the global --json.
func (c *CLI) format(output string) (string, error) {
	if c.jsonOutput {
		return FormatJSON, nil
	}
	switch output {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return output, nil
	default:
		return "", errors.NewInvalidRequest("output", fmt.Sprintf("unknown format %q (use text, json or yaml)", output))
	}
}

// render writes v as JSON or YAML. Machine output ignores --quiet.
func (c *CLI) render(format string, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(c.out())
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return c.outputJSON(v)
	}
}

func (c *CLI) outputJSON(v any) error {
	enc := json.NewEncoder(c.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// remoteClient returns the client for the configured server, or nil when
// the CLI works locally.
func (c *CLI) remoteClient(url, token string) *RemoteClient {
	if url == "" {
		url = c.cfg.Remote.URL
	}
	if token == "" {
		token = c.cfg.Remote.Token
	}
	if url == "" {
		return nil
	}
	return NewRemoteClient(url, token)
}

// SetVersionInfo sets the version information (called from main).
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		GitCommit = commit
	}
	if date != "" {
		BuildDate = date
	}
}
