package util

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
)

func TestFormatBytesFixedWidth(t *testing.T) {
	for in, want := range map[float64]string{
		0:                " 0.0   B",
		99:               "99.0   B",
		1536:             " 1.5 KiB",
		5 * 1024 * 1024:  " 5.0 MiB",
		98.9 * (1 << 30): "98.9 GiB",
	} {
		got := formatBytes(in)
		assert.Equal(t, want, got, "%v", in)
	}
	assert.Len(t, formatBytes(12345678), 8)
}

func TestFormatStatsIncludesCounters(t *testing.T) {
	before := Stats.Dropped.Load()
	Stats.AddDropped()
	Stats.AddOffer()

	line := formatStats(2048)
	assert.True(t, strings.HasPrefix(line, "Media:  2.0 KiB/s"), line)
	assert.Contains(t, line, "Dropped: ")
	assert.Equal(t, before+1, Stats.Dropped.Load())
}

func TestStatsReporterStopsWithContext(t *testing.T) {
	defer test.CheckRoutines(t)()

	ctx, cancel := context.WithCancel(context.Background())
	StartStatsReporter(ctx, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
}

func TestPionLoggerFactory(t *testing.T) {
	var f logging.LoggerFactory = PionLoggerFactory{}
	l := f.NewLogger("ice")

	l.Tracef("trace %d", 1)
	l.Debugf("debug %d", 2)
	l.Infof("info %d", 3)
	l.Warnf("warn %d", 4)
	l.Errorf("error %d", 5)

	assert.Equal(t, "[pion/ice] hello", l.(*pionLogger).line("hello"))
}
