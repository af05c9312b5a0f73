package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureLogger struct {
	infos []string
}

func (c *captureLogger) Debug(string, ...any) {}

func (c *captureLogger) Info(format string, _ ...any) {
	c.infos = append(c.infos, format)
}

func (c *captureLogger) Warn(string, ...any) {}

func (c *captureLogger) Error(string, ...any) {}

func TestOrNopReturnsUsableLogger(t *testing.T) {
	logger := OrNop(nil)
	assert.NotNil(t, logger)
	logger.Info("hello %s", "world") // must not panic
}

func TestMultiFansOutAndFlattens(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}

	inner := Multi(a, nil)
	outer := Multi(inner, b)
	outer.Info("msg")

	assert.Equal(t, []string{"msg"}, a.infos)
	assert.Equal(t, []string{"msg"}, b.infos)
}

func TestMultiCollapsesToNopWhenEmpty(t *testing.T) {
	assert.NotPanics(t, func() { Multi(nil, nil).Info("dropped") })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("anything else"))
}
