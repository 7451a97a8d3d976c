package commands

import (
	"path/filepath"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/cli/config"
	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globals are the persistent flags shared by every subcommand
type globals struct {
	configFile string
	logLevel   string
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "glowroot",
		Short: "Load-time weaving agent",
		Long: color.CyanString(`glowroot - load-time weaving agent

Weaves advice declared in YAML plugin descriptors into compiled units as
they are loaded, and reports the captured spans to a collector.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Configuration file (default: glowroot.yaml in the project root)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewWeaveCommand(g))
	rootCmd.AddCommand(NewInspectCommand(g))
	rootCmd.AddCommand(NewPluginsCommand(g))
	rootCmd.AddCommand(NewRunCommand(g))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.AddRow("glowroot version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", runtime.Version())
			kv.Render()
		},
	}
}

// loadConfig reads the configuration named by --config, or the one in the
// project root, or the defaults. Relative paths in it resolve against the
// directory of the file.
func (g *globals) loadConfig() (*config.Config, error) {
	var (
		cfg  *config.Config
		base = "."
		err  error
	)
	switch {
	case g.configFile != "":
		cfg, err = config.LoadFile(g.configFile)
		base = filepath.Dir(g.configFile)
	default:
		if root, rerr := config.GetProjectRoot(); rerr == nil {
			base = root
		}
		cfg, err = config.Load(base)
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		if _, err := logging.ParseLevel(g.logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = g.logLevel
	}
	cfg.ResolvePaths(base)
	return cfg, nil
}

func (g *globals) logger(cfg *config.Config) *zap.Logger {
	return logging.MustNew(cfg.Logging.Level, true)
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
