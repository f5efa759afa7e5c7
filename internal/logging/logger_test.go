package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := LevelFromString("loud")
	assert.Error(t, err)
}

func TestConfigFor(t *testing.T) {
	cfg, err := ConfigFor("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = ConfigFor("loud", "")
	assert.Error(t, err)

	_, err = ConfigFor("", "xml")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Output.Stdout = false
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Redaction.Patterns = []string{"("}
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Sampling.Tick = 0
	assert.Error(t, cfg.Validate())
}

func TestLoggerWritesJSONWithConstantFields(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Info(context.Background(), "documents stored", zap.Int("count", 3))
	require.NoError(t, l.Sync())

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "documents stored", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "mediarag", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["count"])
	assert.Contains(t, lines[0], "ts")
}

func TestLoggerLevelFiltering(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	l, buf := newBufferLogger(t, cfg)

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden too")
	l.Warn(context.Background(), "shown")
	l.Trace(context.Background(), "never")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.False(t, l.Enabled(zapcore.InfoLevel))
	assert.True(t, l.Enabled(zapcore.ErrorLevel))
}

func TestLoggerErrorsBypassSampling(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 1
	cfg.Sampling.Thereafter = 0
	l, buf := newBufferLogger(t, cfg)

	for i := 0; i < 5; i++ {
		l.Info(context.Background(), "repeated")
		l.Error(context.Background(), "failure")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated":
			infos++
		case "failure":
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}

func TestLoggerRedactsSecrets(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Info(context.Background(), "calling provider",
		zap.String("api_key", "sk-live-abcdefghijklmnopqrstuvwxyz"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.Error(errors.New("connect postgres://app:hunter2@db:5432/rag failed")),
	)
	l.With(zap.String("token", "t0k3n")).Info(context.Background(), "child")

	out := buf.String()
	assert.NotContains(t, out, "sk-live-abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "t0k3n")
	assert.Contains(t, out, redactedValue)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("key", "12345")
	assert.Equal(t, "[REDACTED:5]", f.String)
}

func TestContextFields(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithCollection(ctx, "podcasts")

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(ctx, "op")
	defer span.End()

	tl := NewTestLogger()
	tl.Info(ctx, "searching")

	tl.AssertLogged(t, zapcore.InfoLevel, "searching")
	tl.AssertField(t, "searching", "request.id", "req-123")
	tl.AssertField(t, "searching", "collection", "podcasts")
	tl.AssertField(t, "searching", "trace_id", span.SpanContext().TraceID().String())
}

func TestWithRequestIDRejectsUnsafeIDs(t *testing.T) {
	for _, id := range []string{"", "has space", "new\nline", strings.Repeat("a", 129)} {
		ctx := WithRequestID(context.Background(), id)
		assert.Empty(t, RequestIDFromContext(ctx), "%q", id)
	}
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "from context")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestNamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	tl.Named("vectorstore").With(zap.String("backend", "chromem")).Debug(context.Background(), "opened")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "vectorstore", entries[0].LoggerName)
	assert.Equal(t, "chromem", entries[0].ContextMap()["backend"])
}
