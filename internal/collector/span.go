// Package collector receives the spans produced by woven advice hooks and
// hands them to exporters: an OpenTelemetry tracer, a relational store and
// a Redis list.
package collector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Span is one timed invocation reported by an advice hook.
type Span struct {
	ID       uuid.UUID `json:"id"`
	TraceID  uuid.UUID `json:"trace_id"`
	ParentID uuid.UUID `json:"parent_id"`
	Message  string    `json:"message"`
	Metric   string    `json:"metric"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Error    string    `json:"error,omitempty"`
}

// Duration returns the elapsed time of an ended span.
func (s *Span) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Failed reports whether the span ended with an error.
func (s *Span) Failed() bool {
	return s.Error != ""
}

// Sink is the contract advice hooks report spans through.
type Sink interface {
	StartSpan(message, metric string) *Span
	EndSpan(s *Span)
	EndWithError(s *Span, info string)
}

// ChildStarter is implemented by sinks that can nest a span under an open
// parent, sharing its trace.
type ChildStarter interface {
	StartChild(parent *Span, message, metric string) *Span
}

// Exporter receives spans as they start and end. SpanEnded errors are
// logged by the Recorder and never reach the instrumented code.
type Exporter interface {
	SpanStarted(s *Span)
	SpanEnded(ctx context.Context, s *Span) error
}

// Querier returns recently ended spans, newest first.
type Querier interface {
	Recent(ctx context.Context, limit int) ([]*Span, error)
}

// Shutdowner is implemented by exporters holding resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Recorder is the Sink that fans spans out to every exporter.
type Recorder struct {
	exporters []Exporter
	logger    *zap.Logger
	now       func() time.Time

	active atomic.Int64
	ended  atomic.Int64
}

// NewRecorder creates a recorder exporting to exporters in order.
func NewRecorder(logger *zap.Logger, exporters ...Exporter) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{exporters: exporters, logger: logger, now: time.Now}
}

// StartSpan opens a span that starts a new trace.
func (r *Recorder) StartSpan(message, metric string) *Span {
	id := uuid.New()
	return r.start(&Span{ID: id, TraceID: id, Message: message, Metric: metric})
}

// StartChild opens a span in the trace of parent. A nil parent starts a new
// trace.
func (r *Recorder) StartChild(parent *Span, message, metric string) *Span {
	if parent == nil {
		return r.StartSpan(message, metric)
	}
	return r.start(&Span{
		ID:       uuid.New(),
		TraceID:  parent.TraceID,
		ParentID: parent.ID,
		Message:  message,
		Metric:   metric,
	})
}

func (r *Recorder) start(s *Span) *Span {
	s.Start = r.now()
	r.active.Add(1)
	for _, e := range r.exporters {
		e.SpanStarted(s)
	}
	return s
}

// EndSpan closes s successfully.
func (r *Recorder) EndSpan(s *Span) {
	r.end(s, "")
}

// EndWithError closes s and records info as its error.
func (r *Recorder) EndWithError(s *Span, info string) {
	if info == "" {
		info = "error"
	}
	r.end(s, info)
}

func (r *Recorder) end(s *Span, info string) {
	if s == nil || !s.End.IsZero() {
		return
	}
	s.End = r.now()
	s.Error = info
	r.active.Add(-1)
	r.ended.Add(1)

	ctx := context.Background()
	for _, e := range r.exporters {
		if err := e.SpanEnded(ctx, s); err != nil {
			r.logger.Warn("span export failed",
				zap.String("span", s.ID.String()),
				zap.String("metric", s.Metric),
				zap.Error(err))
		}
	}
}

// Active returns the number of spans started but not ended.
func (r *Recorder) Active() int64 {
	return r.active.Load()
}

// Ended returns the number of spans ended since creation.
func (r *Recorder) Ended() int64 {
	return r.ended.Load()
}

// Shutdown flushes and releases every exporter that holds resources.
func (r *Recorder) Shutdown(ctx context.Context) error {
	var first error
	for _, e := range r.exporters {
		s, ok := e.(Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
