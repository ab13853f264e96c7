package supervisor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestlabs/marketfeed/internal/config"
	"github.com/ingestlabs/marketfeed/internal/event"
	"github.com/ingestlabs/marketfeed/internal/writer/cache"
	"github.com/ingestlabs/marketfeed/internal/writer/columnar"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(bytes.NewBuffer(nil))
	return logrus.NewEntry(l)
}

func testConfig() *config.Config {
	return &config.Config{
		Columnar:       columnar.DefaultConfig(),
		Cache:          cache.DefaultConfig(),
		EnableColumnar: true,
		EnableCache:    true,
	}
}

func testPreset() config.Preset {
	return config.Preset{
		Label:            "unit-test",
		Channels:         []event.Channel{event.ChannelTrades, event.ChannelOBDiff},
		Symbols:          []string{"BTCUSDT", "ETHUSDT"},
		LogIntervalS:     1,
		CPUAffinityIndex: -1,
		WSBaseURL:        "wss://example.invalid",
		WSStreamPath:     "/stream",
	}
}

func TestNew_BuildsOneAdapterPerPresetChannel(t *testing.T) {
	s, err := New(testConfig(), testPreset(), discardLogger())
	require.NoError(t, err)

	require.Len(t, s.adapters, 2, "one adapter per channel in the preset")
}

func TestNew_RejectsPresetWithNoChannels(t *testing.T) {
	_, err := New(testConfig(), config.Preset{Label: "empty"}, discardLogger())
	assert.Error(t, err)
}

func TestRun_ShutsDownCleanlyOnContextCancel(t *testing.T) {
	s, err := New(testConfig(), testPreset(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	s, err := New(testConfig(), testPreset(), discardLogger())
	require.NoError(t, err)

	s.shutdown()
	s.shutdown() // must not panic or double-close
}
