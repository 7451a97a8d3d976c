package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scottag99/glowroot/internal/admin"
	"github.com/scottag99/glowroot/internal/agent"
	"github.com/scottag99/glowroot/internal/cli/config"
	"github.com/scottag99/glowroot/internal/cli/ui"
	"github.com/scottag99/glowroot/internal/collector"
	"github.com/scottag99/glowroot/internal/runtime/interp"
	"github.com/scottag99/glowroot/internal/weaving/code"
)

// spanLog keeps the spans ended during one run for the summary.
type spanLog struct {
	mu    sync.Mutex
	spans []*collector.Span
}

func (l *spanLog) SpanStarted(*collector.Span) {}

func (l *spanLog) SpanEnded(_ context.Context, s *collector.Span) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spans = append(l.spans, s)
	return nil
}

func (l *spanLog) ended() []*collector.Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*collector.Span(nil), l.spans...)
}

// exporterSet is what buildExporters assembled from the configuration.
type exporterSet struct {
	exporters []collector.Exporter
	// querier answers /api/spans when an exporter keeps spans
	querier collector.Querier
}

// buildExporters creates the configured span exporters. Exporters created
// before a failure are shut down.
func buildExporters(ctx context.Context, cfg config.CollectorConfig, stdout io.Writer) (_ *exporterSet, err error) {
	set := &exporterSet{}
	defer func() {
		if err != nil {
			_ = collector.NewRecorder(nil, set.exporters...).Shutdown(ctx)
		}
	}()
	for _, name := range cfg.Exporters {
		switch name {
		case "none":
		case "stdout":
			e, err := collector.NewStdoutExporter(stdout)
			if err != nil {
				return nil, err
			}
			set.exporters = append(set.exporters, e)
		case "store":
			s, err := collector.OpenStore(ctx, cfg.StoreDriver, cfg.StoreDSN)
			if err != nil {
				return nil, err
			}
			set.exporters = append(set.exporters, s)
			if set.querier == nil {
				set.querier = s
			}
		case "redis":
			rc := collector.DefaultRedisConfig()
			rc.Addr = cfg.RedisAddr
			if cfg.RedisKey != "" {
				rc.Key = cfg.RedisKey
			}
			r, err := collector.NewRedisExporter(rc)
			if err != nil {
				return nil, err
			}
			set.exporters = append(set.exporters, r)
			if set.querier == nil {
				set.querier = r
			}
		default:
			return nil, fmt.Errorf("unknown exporter: %q", name)
		}
	}
	return set, nil
}

type runOptions struct {
	serve   bool
	noSpans bool
}

// NewRunCommand creates the run command
func NewRunCommand(g *globals) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <type> <method> [arg...]",
		Short: "Load a type with weaving and invoke one of its methods",
		Long: `Load a type from the classpath through the agent and invoke a method on it.
Static methods are called directly; for instance methods a new object is
constructed with the no-argument constructor. Arguments are converted to the
parameter types of the method.

Captured spans go to the configured exporters. With --serve the agent keeps
running after the call, serving the admin endpoint and reloading plugins on
change when watch is enabled, until interrupted.

Examples:
  glowroot run app.Service handle hello
  glowroot run app.Main main --serve`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, g, opts, args[0], args[1], args[2:])
		},
	}
	cmd.Flags().BoolVar(&opts.serve, "serve", false, "Keep running after the call until interrupted")
	cmd.Flags().BoolVar(&opts.noSpans, "no-spans", false, "Do not print the span summary")
	return cmd
}

func runInvoke(cmd *cobra.Command, g *globals, opts *runOptions, typeName, methodName string, rawArgs []string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	noColor := color.NoColor

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exporters, err := buildExporters(ctx, cfg.Collector, out)
	if err != nil {
		return err
	}
	log := &spanLog{}
	all := append([]collector.Exporter{log}, exporters.exporters...)
	var feed *admin.SpanFeed
	if opts.serve && cfg.Admin.Enabled() {
		feed = admin.NewSpanFeed(g.logger(cfg))
		all = append(all, feed)
	}
	recorder := collector.NewRecorder(g.logger(cfg), all...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := recorder.Shutdown(shutdownCtx); err != nil {
			g.logger(cfg).Warn("exporter shutdown failed", zap.Error(err))
		}
	}()

	ws, err := g.newWorkspace(cfg, recorder, opts.serve)
	if err != nil {
		return err
	}
	ws.writeReport(cmd.ErrOrStderr(), noColor)

	result, callErr := invoke(ws, typeName, methodName, rawArgs)
	if errors.Is(callErr, interp.ErrClassNotFound) {
		return ws.unitNotFound(typeName, callErr, cmd.ErrOrStderr(), noColor)
	}
	if callErr == nil {
		fmt.Fprintln(out, interp.FormatValue(result))
	}
	if !opts.noSpans {
		writeSpanSummary(out, log.ended(), noColor)
	}
	if !opts.serve {
		return callErr
	}
	if callErr != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.Warning(callErr.Error(), noColor))
	}
	return serve(ctx, ws, cfg, exporters.querier, feed)
}

// serve runs the plugin watcher and the admin endpoint until ctx is done.
func serve(ctx context.Context, ws *workspace, cfg *config.Config, spans collector.Querier, feed *admin.SpanFeed) error {
	eg, ctx := errgroup.WithContext(ctx)
	if cfg.Watch {
		w, err := agent.Watch(ws.agent, cfg.Plugins, ws.logger)
		if err != nil {
			return err
		}
		defer w.Stop()
	}
	if cfg.Admin.Enabled() {
		srv := admin.NewServer(admin.Options{
			Controller:  ws.agent,
			PluginPaths: cfg.Plugins,
			Auth:        admin.NewAuth(cfg.Admin.Secret, cfg.Admin.PasswordHash, cfg.Admin.TokenTTL),
			Spans:       spans,
			Feed:        feed,
			Gatherer:    ws.registry,
			Logger:      ws.logger,
		})
		eg.Go(func() error { return srv.ListenAndServe(ctx, cfg.Admin.Addr) })
	}
	eg.Go(func() error {
		<-ctx.Done()
		if feed != nil {
			return feed.Shutdown(context.Background())
		}
		return nil
	})
	ws.logger.Info("agent running, press Ctrl+C to stop")
	return eg.Wait()
}

// invoke loads typeName through the agent and calls methodName on it.
func invoke(ws *workspace, typeName, methodName string, rawArgs []string) (interp.Value, error) {
	c, err := ws.loader.LoadClass(typeName)
	if err != nil {
		return nil, err
	}
	m := findMethod(c.Unit(), methodName, len(rawArgs))
	if m == nil {
		return nil, fmt.Errorf("%s has no method %s taking %d argument(s)", typeName, methodName, len(rawArgs))
	}
	args := make([]interp.Value, len(rawArgs))
	for i, raw := range rawArgs {
		if args[i], err = convertArg(raw, m.Params[i]); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	th := ws.runtime.NewThread()
	if m.IsStatic() {
		return th.CallStatic(c, methodName, args...)
	}
	obj, err := th.New(c)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", typeName, err)
	}
	return th.Call(obj, methodName, args...)
}

func findMethod(u *code.Unit, name string, argc int) *code.Method {
	for _, m := range u.Methods {
		if m.Name == name && len(m.Params) == argc && !m.IsConstructor() {
			return m
		}
	}
	return nil
}

// convertArg parses a command-line argument as a value of type t.
func convertArg(raw, t string) (interp.Value, error) {
	switch t {
	case "long", "int", "short", "byte", "char":
		return strconv.ParseInt(raw, 10, 64)
	case "double", "float":
		return strconv.ParseFloat(raw, 64)
	case "boolean":
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func writeSpanSummary(w io.Writer, spans []*collector.Span, noColor bool) {
	if len(spans) == 0 {
		return
	}
	fmt.Fprintln(w)
	tbl := ui.NewTable(w, noColor, "METRIC", "MESSAGE", "DURATION", "ERROR")
	for _, s := range spans {
		tbl.AddRow(s.Metric, s.Message, s.Duration().Round(time.Microsecond).String(), s.Error)
	}
	tbl.Render()
}
