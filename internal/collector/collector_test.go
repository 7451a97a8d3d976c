package collector

import (
	"bytes"
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeExporter struct {
	started []string
	ended   []string
	err     error
}

func (f *fakeExporter) SpanStarted(s *Span) { f.started = append(f.started, s.Message) }

func (f *fakeExporter) SpanEnded(_ context.Context, s *Span) error {
	f.ended = append(f.ended, s.Message+"|"+s.Error)
	return f.err
}

func fixedClock() func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestRecorderFansOut(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a := &fakeExporter{}
	b := &fakeExporter{err: stderrors.New("disk full")}
	r := NewRecorder(zap.New(core), a, b)
	r.now = fixedClock()

	root := r.StartSpan("GET /users", "http")
	child := r.StartChild(root, "findAll", "jdbc")
	assert.Equal(t, int64(2), r.Active())
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, root.ID, root.TraceID)

	r.EndWithError(child, "")
	r.EndSpan(root)
	r.EndSpan(root)

	assert.Equal(t, []string{"GET /users", "findAll"}, a.started)
	assert.Equal(t, []string{"findAll|error", "GET /users|"}, a.ended)
	assert.Equal(t, a.ended, b.ended, "a failing exporter does not stop the others")
	assert.Equal(t, int64(0), r.Active())
	assert.Equal(t, int64(2), r.Ended(), "ending twice is a no-op")
	assert.Equal(t, 3*time.Millisecond, root.Duration(), "the clock ticks on every start and end")
	assert.Equal(t, 2, logs.FilterMessage("span export failed").Len())
}

func TestOTelExporter(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	r := NewRecorder(nil, NewOTelExporter(tp.Tracer("test"), tp))
	r.now = fixedClock()

	root := r.StartSpan("GET /users", "http")
	child := r.StartChild(root, "findAll", "jdbc")
	r.EndWithError(child, "timeout")
	r.EndSpan(root)
	require.NoError(t, r.Shutdown(context.Background()))

	ended := rec.Ended()
	require.Len(t, ended, 2)
	inner, outer := ended[0], ended[1]
	assert.Equal(t, "findAll", inner.Name())
	assert.Equal(t, codes.Error, inner.Status().Code)
	assert.Equal(t, "timeout", inner.Status().Description)
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, outer.SpanContext().TraceID(), inner.SpanContext().TraceID())
	assert.True(t, root.Start.Equal(outer.StartTime()))
	assert.True(t, root.End.Equal(outer.EndTime()))
	assert.Contains(t, outer.Attributes(), attribute.String("glowroot.metric", "http"))
}

func TestOTelExporterUnknownSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	e := NewOTelExporter(tp.Tracer("test"), nil)
	err := e.SpanEnded(context.Background(), &Span{ID: uuid.New()})
	assert.Error(t, err)
}

func TestStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	e, err := NewStdoutExporter(&buf)
	require.NoError(t, err)
	r := NewRecorder(nil, e)

	r.EndSpan(r.StartSpan("tick", "timer"))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"tick"`)
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func TestStoreRecentAndTrace(t *testing.T) {
	s := newSQLiteStore(t)
	r := NewRecorder(nil, s)
	r.now = fixedClock()

	root := r.StartSpan("GET /users", "http")
	child := r.StartChild(root, "findAll", "jdbc")
	r.EndWithError(child, "timeout")
	r.EndSpan(root)
	other := r.StartSpan("tick", "timer")
	r.EndSpan(other)

	ctx := context.Background()
	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, other.ID, recent[0].ID)
	assert.Equal(t, root.ID, recent[1].ID)
	assert.Equal(t, uuid.Nil, recent[1].ParentID)
	assert.Equal(t, root.End.UnixNano(), recent[1].End.UnixNano())

	spans, err := s.Trace(ctx, root.TraceID)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /users", spans[0].Message)
	assert.Equal(t, root.ID, spans[1].ParentID)
	assert.Equal(t, "timeout", spans[1].Error)

	none, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), "mysql", "")
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestStoreStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS spans")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS spans_trace_idx")).WillReturnResult(sqlmock.NewResult(0, 0))

	span := &Span{ID: uuid.New(), Message: "m", Metric: "x", Start: time.Unix(0, 10), End: time.Unix(0, 20)}
	span.TraceID = span.ID
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO spans")).
		WithArgs(span.ID.String(), span.TraceID.String(), "", "m", "x", int64(10), int64(20), "").
		WillReturnError(stderrors.New("connection reset"))

	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	err = s.SpanEnded(context.Background(), span)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisExporter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := NewRedisExporterWithClient(client, RedisConfig{MaxLen: 2})
	r := NewRecorder(nil, e)

	var spans []*Span
	for _, m := range []string{"a", "b", "c"} {
		s := r.StartSpan(m, "timer")
		r.EndSpan(s)
		spans = append(spans, s)
	}

	recent, err := e.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2, "the list is capped")
	assert.Equal(t, "c", recent[0].Message)
	assert.Equal(t, spans[1].ID, recent[1].ID)

	n, err := client.LLen(context.Background(), "glowroot:spans").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, e.Shutdown(context.Background()))
}

func TestNewRedisExporterConnectionError(t *testing.T) {
	_, err := NewRedisExporter(RedisConfig{Addr: "localhost:1"})
	assert.Error(t, err)
}
