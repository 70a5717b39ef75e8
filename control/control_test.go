package control_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0", cfg.Address)
	assert.Equal(t, 8563, cfg.Port)
	assert.Equal(t, api.DefaultPoolSize, cfg.Workers)
	assert.Equal(t, "hello", cfg.Greeting)
	assert.Len(t, cfg.Greeting, 5)
	assert.Equal(t, 5*time.Second, cfg.Hold)
	assert.Equal(t, "server busy\n", cfg.BusyMessage)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatchd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nworkers: 2\nhold: 250ms\nlog_format: json\npin_workers: true\n"), 0o600))

	cfg, err := control.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Hold)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.PinWorkers)
	assert.Equal(t, "hello", cfg.Greeting, "untouched fields keep defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := control.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\naddress: nowhere\n"), 0o600))
	_, err = control.LoadConfig(path)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "address")

	require.NoError(t, os.WriteFile(path, []byte("port: [1"), 0o600))
	_, err = control.LoadConfig(path)
	assert.Error(t, err)
}

func TestMetricsRegistry(t *testing.T) {
	mr := control.NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())

	mr.Inc(control.MetricAccepted)
	mr.Inc(control.MetricAccepted)
	mr.Add(control.MetricRejected, 3)
	mr.Set(control.MetricPoolIdle, 4)

	assert.EqualValues(t, 2, mr.Counter(control.MetricAccepted))
	assert.EqualValues(t, 0, mr.Counter(control.MetricDropped))
	v, ok := mr.Gauge(control.MetricPoolIdle)
	require.True(t, ok)
	assert.Equal(t, 4, v)
	assert.False(t, mr.Updated().IsZero())

	snap := mr.GetSnapshot()
	assert.Equal(t, int64(3), snap[control.MetricRejected])
	assert.Equal(t, 4, snap[control.MetricPoolIdle])
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return dp.Names() })

	assert.Equal(t, []string{"a", "b"}, dp.Names())
	state := dp.DumpState()
	assert.Equal(t, 2, state["b"])
	assert.Equal(t, []string{"a", "b"}, state["a"])
}
