package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	werrors "github.com/scottag99/glowroot/internal/weaving/errors"
)

// weaveResult is one row of the weave summary
type weaveResult struct {
	Type        string       `json:"type"`
	Result      string       `json:"result"`
	Methods     []string     `json:"methods,omitempty"`
	Mixins      []string     `json:"mixins,omitempty"`
	Error       string       `json:"error,omitempty"`
	Diagnostics werrors.List `json:"diagnostics,omitempty"`
}

// NewWeaveCommand creates the weave command
func NewWeaveCommand(g *globals) *cobra.Command {
	var (
		outDir   string
		jsonOut  bool
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "weave [type...]",
		Short: "Weave classpath units ahead of time",
		Long: `Weave units from the configured classpath with the configured plugins and
report what changed. With --out, the woven units are written to a directory
that can serve as a classpath itself.

Examples:
  glowroot weave
  glowroot weave app.Service --out build/classes
  glowroot weave --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := g.openWorkspace(nil, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			noColor := color.NoColor

			names := args
			if len(names) == 0 {
				if names, err = ws.source.Names(); err != nil {
					return err
				}
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return fmt.Errorf("creating output directory: %w", err)
				}
			}

			var bar *ui.ProgressBar
			if progress && !jsonOut {
				bar = ui.NewProgressBar(cmd.ErrOrStderr(), len(names), "weaving", noColor)
			}
			results := make([]weaveResult, 0, len(names))
			failed := 0
			for _, name := range names {
				if bar != nil {
					bar.Step(name)
				}
				r, raw, err := weaveOne(ws, name)
				if err != nil {
					if jsonOut {
						failed++
						results = append(results, weaveResult{Type: name, Result: "failed", Error: err.Error()})
						continue
					}
					return ws.unitNotFound(name, err, cmd.ErrOrStderr(), noColor)
				}
				if r.Result == "failed" {
					failed++
				}
				results = append(results, r)
				if outDir != "" {
					if err := os.WriteFile(filepath.Join(outDir, name+interp.UnitExt), raw, 0o644); err != nil {
						return fmt.Errorf("writing %s: %w", name, err)
					}
				}
			}
			if bar != nil {
				bar.Finish(fmt.Sprintf("processed %d unit(s)", len(names)))
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				ws.writeReport(out, noColor)
				renderWeaveResults(out, results, noColor)
			}
			if failed > 0 {
				return fmt.Errorf("%d unit(s) failed to weave", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write the woven units to this directory")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a progress bar")
	return cmd
}

// weaveOne transforms one unit. Weaving failures are reported in the
// result and leave the unit as it was; a missing unit is an error.
func weaveOne(ws *workspace, name string) (weaveResult, []byte, error) {
	raw, err := ws.loader.FindUnit(name)
	if err != nil {
		return weaveResult{}, nil, err
	}
	res, err := ws.agent.Transformer().Transform(raw, ws.loader)
	r := weaveResult{Type: name, Diagnostics: res.Diagnostics}
	switch {
	case err != nil:
		r.Result = "failed"
		r.Error = err.Error()
	case res.Unchanged:
		r.Result = "unchanged"
	default:
		r.Result = "woven"
		r.Methods = res.Woven
		r.Mixins = res.Mixins
	}
	if r.Result == "failed" {
		return r, raw, nil
	}
	return r, res.Raw, nil
}

func renderWeaveResults(w io.Writer, results []weaveResult, noColor bool) {
	woven := 0
	tbl := ui.NewTable(w, noColor, "TYPE", "RESULT", "METHODS", "MIXINS")
	for _, r := range results {
		detail := strings.Join(r.Methods, ", ")
		if r.Error != "" {
			detail = r.Error
		}
		if r.Result == "woven" {
			woven++
		}
		tbl.AddRow(r.Type, r.Result, detail, strings.Join(r.Mixins, ", "))
		for _, d := range r.Diagnostics {
			fmt.Fprint(w, ui.FormatDiagnostic(d, noColor))
		}
	}
	tbl.Render()
	ui.WriteSuccess(w, strconv.Itoa(woven)+" of "+strconv.Itoa(len(results))+" unit(s) woven", noColor)
}
