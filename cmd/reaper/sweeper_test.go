package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeEnqueuer struct {
	limits []int32
	n      int
	err    error
}

func (f *fakeEnqueuer) EnqueueDue(_ context.Context, limit int32) (int, error) {
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

func TestSweep_UsesBatchAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := &fakeEnqueuer{n: 3}
	s := newSweeper(e, 25, zap.New(core))

	s.sweep()

	assert.Equal(t, []int32{25}, e.limits)
	entries := logs.FilterMessage("due webhooks handed off").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, int64(3), entries[0].ContextMap()["count"])
	}
}

func TestSweep_LogsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := &fakeEnqueuer{err: errors.New("query failed")}
	s := newSweeper(e, 0, zap.New(core))

	s.sweep()

	assert.Equal(t, []int32{50}, e.limits)
	assert.Equal(t, 1, logs.FilterMessage("sweep failed webhooks").Len())
	assert.Zero(t, logs.FilterMessage("due webhooks handed off").Len())
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := cronLogger{zap.New(core).Sugar()}

	l.Info("schedule", "now", "x")
	l.Error(errors.New("panic"), "job failed", "entry", 1)

	all := logs.All()
	if assert.Len(t, all, 2) {
		assert.Equal(t, zapcore.DebugLevel, all[0].Level)
		assert.Equal(t, "panic", all[1].ContextMap()["error"])
	}
}
