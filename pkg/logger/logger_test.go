package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTextWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewText(&buf, slog.LevelDebug).WithAction("UNION").WithLibrary("a.splib")

	log.LogInsert("PEPTIDEK/2", 1024, nil)
	out := buf.String()
	assert.Contains(t, out, "insert completed")
	assert.Contains(t, out, "action=UNION")
	assert.Contains(t, out, "library=a.splib")
	assert.Contains(t, out, "entry=PEPTIDEK/2")

	buf.Reset()
	log.LogInsert("PEPTIDEK/2", 0, errors.New("disk full"))
	assert.Contains(t, buf.String(), "insert failed")

	buf.Reset()
	log.LogSkippedEntry("PEPTIDEK/2", "probability 0.1 below 0.9")
	assert.Contains(t, buf.String(), "entry skipped")
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	log := NewText(&buf, slog.LevelInfo)
	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNoopDiscards(t *testing.T) {
	log := Noop()
	log.Error("nothing happens")
	log.LogIndexRebuild("a.pepidx", 10, nil)
}
