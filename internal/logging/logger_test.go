package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) log(level, format string, args ...any) {
	r.lines = append(r.lines, level+": "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Debug(format string, args ...any) { r.log("debug", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.log("info", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.log("warn", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.log("error", format, args...) }

func TestOrNopHandlesNilVariants(t *testing.T) {
	t.Parallel()

	require.NotNil(t, OrNop(nil))
	OrNop(nil).Info("must not panic %d", 1)

	var typedNil *recordingLogger
	OrNop(typedNil).Warn("typed nil is also safe")

	real := &recordingLogger{}
	require.Same(t, Logger(real), OrNop(real))
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a := &recordingLogger{}
	b := &recordingLogger{}
	logger := Multi(a, nil, b)

	logger.Info("turn %d done", 3)
	logger.Error("boom")

	require.Equal(t, []string{"info: turn 3 done", "error: boom"}, a.lines)
	require.Equal(t, a.lines, b.lines)
}

func TestMultiFlattensNested(t *testing.T) {
	t.Parallel()

	a := &recordingLogger{}
	b := &recordingLogger{}
	nested := Multi(Multi(a, b), nil)

	nested.Debug("x")
	require.Len(t, a.lines, 1)
	require.Len(t, b.lines, 1)

	require.NotNil(t, Multi())
	Multi().Info("empty fan-out is a nop")

	single := Multi(a)
	require.Same(t, Logger(a), single)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"debug":   "debug",
		"INFO":    "info",
		"warn":    "warn",
		"error":   "error",
		"":        "info",
		"verbose": "info",
	}
	for input, want := range cases {
		require.Equal(t, want, ParseLevel(input).String(), "input %q", input)
	}
}
