package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/scottag99/glowroot/internal/agent"
	"github.com/scottag99/glowroot/internal/cli/config"
	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/collector"
	"github.com/scottag99/glowroot/internal/runtime/interp"
)

// classLoaderID names the loader every command defines classpath units in.
const classLoaderID = "app"

// workspace is an agent attached to a runtime over the configured
// classpath, with the configured plugins loaded.
type workspace struct {
	cfg      *config.Config
	logger   *zap.Logger
	source   interp.DirSource
	runtime  *interp.Runtime
	loader   *interp.Loader
	agent    *agent.Agent
	registry *prometheus.Registry
	report   agent.ReloadReport
}

func (g *globals) openWorkspace(sink collector.Sink, live bool) (*workspace, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return g.newWorkspace(cfg, sink, live)
}

// newWorkspace opens a workspace on an already loaded configuration. With
// live set, weaving settings follow edits of the configuration file.
func (g *globals) newWorkspace(cfg *config.Config, sink collector.Sink, live bool) (*workspace, error) {
	var err error
	logger := g.logger(cfg)

	var settings agent.ConfigService = agent.NewStaticConfig(agent.Settings{
		Disabled:                     cfg.Weaving.Disabled,
		MetricWrapperMethodsDisabled: cfg.Weaving.MetricWrapperMethodsDisabled,
	})
	if live && cfg.Source != nil && cfg.Source.ConfigFileUsed() != "" {
		cfg.Source.WatchConfig()
		settings = agent.NewViperConfig(cfg.Source)
	}

	hooks := interp.NewHooks()
	ws := &workspace{
		cfg:      cfg,
		logger:   logger,
		source:   interp.DirSource{Dir: cfg.Classpath},
		registry: prometheus.NewRegistry(),
	}
	ws.agent = agent.New(agent.Options{
		Config:     settings,
		Hooks:      hooks,
		Sink:       sink,
		Registerer: ws.registry,
		Logger:     logger,
	})
	ws.runtime = interp.NewRuntime(hooks, logger)
	ws.agent.Attach(ws.runtime)
	ws.loader = ws.runtime.NewLoader(classLoaderID, nil, ws.source)

	ws.report, err = ws.agent.ReloadPaths(cfg.Plugins...)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// writeReport prints the catalog problems of the loaded plugins.
func (ws *workspace) writeReport(w io.Writer, noColor bool) {
	ui.WriteDiagnostics(w, ws.report.Diagnostics, noColor)
	if len(ws.report.MissingHooks) > 0 {
		fmt.Fprint(w, ui.Warning(fmt.Sprintf("hooks without implementation: %v", ws.report.MissingHooks), noColor))
	}
}

// unitNotFound builds the error for a type missing from the classpath.
func (ws *workspace) unitNotFound(name string, err error, w io.Writer, noColor bool) error {
	if !errors.Is(err, interp.ErrClassNotFound) {
		return err
	}
	names, _ := ws.source.Names()
	fmt.Fprint(w, ui.TypeNotFoundError(name, ui.FindSimilar(name, names), noColor))
	return fmt.Errorf("%s: %w", name, err)
}
