package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

// NewInspectCommand creates the inspect command
func NewInspectCommand(g *globals) *cobra.Command {
	var (
		list   bool
		disasm bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [type]",
		Short: "Show which advice and mixins apply to a type",
		Long: `Match a classpath unit against the loaded plugins without running it.

Examples:
  glowroot inspect --list
  glowroot inspect app.Service
  glowroot inspect app.Service --disasm`,
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := g.openWorkspace(nil, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			noColor := color.NoColor

			if list {
				names, err := ws.source.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			name := args[0]
			raw, err := ws.loader.FindUnit(name)
			if err != nil {
				return ws.unitNotFound(name, err, cmd.ErrOrStderr(), noColor)
			}
			matches, err := ws.agent.Transformer().Plan(raw, ws.loader)
			if err != nil {
				return fmt.Errorf("matching %s: %w", name, err)
			}
			ws.writeReport(out, noColor)
			if len(matches) == 0 {
				fmt.Fprint(out, ui.Warning(name+" matches no pointcut", noColor))
			} else {
				tbl := ui.NewTable(out, noColor, "METHOD", "ADVICE", "MIXINS", "INHERITED")
				for _, m := range matches {
					mixins := make([]string, len(m.Mixins))
					for i, d := range m.Mixins {
						mixins[i] = d.Name
					}
					inherited := ""
					if m.Inherited {
						inherited = "yes"
					}
					tbl.AddRow(m.Method.Key(), strings.Join(m.AdviceNames(), ", "), strings.Join(mixins, ", "), inherited)
				}
				tbl.Render()
			}

			if disasm {
				res, err := ws.agent.Transformer().Transform(raw, ws.loader)
				if err != nil {
					return fmt.Errorf("weaving %s: %w", name, err)
				}
				u := res.Unit
				if res.Unchanged {
					if u, err = code.Decode(raw); err != nil {
						return err
					}
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, code.Disassemble(u))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List the units on the classpath")
	cmd.Flags().BoolVar(&disasm, "disasm", false, "Print the woven unit")
	return cmd
}
