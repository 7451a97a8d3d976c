package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scottag99/glowroot/internal/agent"
	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/plugin"
)

// NewPluginsCommand creates the plugins command group
func NewPluginsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Check and scaffold plugin descriptors",
	}
	cmd.AddCommand(newPluginsCheckCommand(g))
	cmd.AddCommand(newPluginsInitCommand())
	return cmd
}

func newPluginsCheckCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check [path...]",
		Short: "Validate plugin descriptors",
		Long: `Parse plugin descriptors and compile their pointcuts without weaving
anything. Without arguments the configured plugin paths are checked.

Examples:
  glowroot plugins check
  glowroot plugins check plugins/servlet.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				paths = cfg.Plugins
			}
			out := cmd.OutOrStdout()
			noColor := color.NoColor

			set, err := plugin.Load(paths...)
			if err != nil {
				return err
			}
			report := agent.New(agent.Options{}).Load(set)

			ui.WriteDiagnostics(out, report.Diagnostics, noColor)
			tbl := ui.NewTable(out, noColor, "POINTCUT", "TYPE", "METHOD", "CAPTURE", "SOURCE")
			for _, d := range set.Plugins {
				for _, p := range d.Pointcuts {
					capture := p.Capture
					if capture == "" {
						capture = "hooks"
					}
					tbl.AddRow(p.Name, p.TypeName, p.MethodName, capture, p.Source)
				}
			}
			if tbl.Len() > 0 {
				tbl.Render()
			}
			if len(report.MissingHooks) > 0 {
				fmt.Fprint(out, ui.Warning("hooks without implementation: "+strings.Join(report.MissingHooks, ", "), noColor))
			}
			if report.Diagnostics.HasErrors() {
				errs, _, _ := report.Diagnostics.Count()
				return fmt.Errorf("%d error(s) in plugin descriptors", errs)
			}
			ui.WriteSuccess(out, fmt.Sprintf("%d plugin(s), %d pointcut(s), %d mixin(s)", report.Plugins, report.Advice, report.Mixins), noColor)
			return nil
		},
	}
}

// scaffold is the descriptor written by plugins init. It mirrors the
// plugin file layout with empty keys left out.
type scaffold struct {
	Name      string             `yaml:"name"`
	Version   string             `yaml:"version,omitempty"`
	Pointcuts []scaffoldPointcut `yaml:"pointcuts"`
}

type scaffoldPointcut struct {
	Name       string   `yaml:"name"`
	TypeName   string   `yaml:"typeName"`
	MethodName string   `yaml:"methodName"`
	MethodArgs []string `yaml:"methodArgs"`
	MetricName string   `yaml:"metricName,omitempty"`
	Reweavable bool     `yaml:"reweavable,omitempty"`
	Capture    string   `yaml:"capture"`
}

type initOptions struct {
	interactive bool
	force       bool
	name        string
	typeName    string
	methodName  string
	capture     string
	metric      string
	reweavable  bool
}

func newPluginsInitCommand() *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write a new plugin descriptor",
		Long: `Write a plugin descriptor with one captured pointcut.

Examples:
  glowroot plugins init plugins/jdbc.yaml --type 'java.sql.Statement' --method 'execute*'
  glowroot plugins init plugins/jdbc.yaml --interactive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPluginsInit(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Prompt for every field")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&opts.name, "name", "", "Plugin name (default: file name)")
	cmd.Flags().StringVar(&opts.typeName, "type", "", "Type name pattern")
	cmd.Flags().StringVar(&opts.methodName, "method", "", "Method name pattern")
	cmd.Flags().StringVar(&opts.capture, "capture", plugin.CaptureSpan, "Capture kind (span, count)")
	cmd.Flags().StringVar(&opts.metric, "metric", "", "Metric name for span captures")
	cmd.Flags().BoolVar(&opts.reweavable, "reweavable", false, "Allow retransforming loaded classes")
	return cmd
}

func runPluginsInit(cmd *cobra.Command, path string, opts *initOptions) error {
	if _, err := os.Stat(path); err == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if opts.name == "" {
		opts.name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if opts.interactive {
		if err := askInit(opts); err != nil {
			return err
		}
	}
	if opts.typeName == "" || opts.methodName == "" {
		return fmt.Errorf("--type and --method are required (or use --interactive)")
	}

	s := scaffold{
		Name:    opts.name,
		Version: "0.1.0",
		Pointcuts: []scaffoldPointcut{{
			Name:       opts.name + "." + strings.Trim(opts.methodName, "*|"),
			TypeName:   opts.typeName,
			MethodName: opts.methodName,
			MethodArgs: []string{".."},
			Reweavable: opts.reweavable,
			Capture:    opts.capture,
		}},
	}
	if opts.capture == plugin.CaptureSpan {
		s.Pointcuts[0].MetricName = opts.metric
	}
	data, err := yaml.Marshal(&s)
	if err != nil {
		return err
	}
	// what we write must load
	if _, err := plugin.Parse(data, path); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	ui.WriteSuccess(cmd.OutOrStdout(), "Created "+path, color.NoColor)
	return nil
}

func askInit(opts *initOptions) error {
	questions := []*survey.Question{
		{
			Name:     "name",
			Prompt:   &survey.Input{Message: "Plugin name:", Default: opts.name},
			Validate: survey.Required,
		},
		{
			Name:     "typeName",
			Prompt:   &survey.Input{Message: "Type name pattern:", Default: opts.typeName},
			Validate: survey.Required,
		},
		{
			Name:     "methodName",
			Prompt:   &survey.Input{Message: "Method name pattern:", Default: opts.methodName},
			Validate: survey.Required,
		},
		{
			Name: "capture",
			Prompt: &survey.Select{
				Message: "Capture:",
				Options: []string{plugin.CaptureSpan, plugin.CaptureCount},
				Default: opts.capture,
			},
		},
	}
	answers := struct {
		Name       string
		TypeName   string
		MethodName string
		Capture    string
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}
	opts.name = answers.Name
	opts.typeName = answers.TypeName
	opts.methodName = answers.MethodName
	opts.capture = answers.Capture

	if opts.capture == plugin.CaptureSpan {
		prompt := &survey.Input{Message: "Metric name (optional):", Default: opts.metric}
		if err := survey.AskOne(prompt, &opts.metric); err != nil {
			return err
		}
	}
	return survey.AskOne(&survey.Confirm{Message: "Reweavable?", Default: opts.reweavable}, &opts.reweavable)
}
