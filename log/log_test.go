package log

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
	}
	t.Cleanup(func() { SetLevel(LevelInfo) })

	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, zapLevel.Level(), "SetLevel(%q)", c.in)
	}
}

// recorder captures formatted messages per level.
type recorder struct {
	lines []string
}

func (r *recorder) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}
func (r *recorder) Debugf(format string, args ...any) { r.add("debug", format, args...) }
func (r *recorder) Infof(format string, args ...any)  { r.add("info", format, args...) }
func (r *recorder) Warnf(format string, args ...any)  { r.add("warn", format, args...) }
func (r *recorder) Errorf(format string, args ...any) { r.add("error", format, args...) }
func (r *recorder) Fatalf(format string, args ...any) { r.add("fatal", format, args...) }

func TestHelpersDelegateToDefault(t *testing.T) {
	rec := &recorder{}
	old := Default
	Default = rec
	t.Cleanup(func() { Default = old })

	Debugf("d %d", 1)
	Infof("i %s", "x")
	Warnf("w")
	Errorf("e %v", true)

	assert.Equal(t, []string{"debug d 1", "info i x", "warn w", "error e true"}, rec.lines)
}
