package device

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "http://192.168.1.50:80", normalizeBaseURL("192.168.1.50"))
	assert.Equal(t, "http://192.168.1.50:8080", normalizeBaseURL("192.168.1.50:8080"))
	assert.Equal(t, "http://miner.local", normalizeBaseURL("http://miner.local/"))
}

func TestParseTelemetryVoltageFallback(t *testing.T) {
	cases := []struct {
		name string
		body string
		want float64
	}{
		{"actual", `{"coreVoltageActual":1180,"coreVoltage":1200,"volts":1100}`, 1180},
		{"core", `{"coreVoltageActual":0,"coreVoltage":1200}`, 1200},
		{"volts", `{"volts":1100}`, 1100},
		{"voltage", `{"voltage":1050}`, 1050},
		{"none", `{}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ParseTelemetry([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, s.Voltage)
		})
	}
}

func TestParseTelemetryFields(t *testing.T) {
	s, err := ParseTelemetry([]byte(`{"temp":48.5,"power":12.1,"frequency":525,"hashRate":610.4,"bestDiff":4096}`))
	require.NoError(t, err)
	assert.Equal(t, 48.5, s.Temperature)
	assert.Equal(t, 12.1, s.Power)
	assert.Equal(t, 525.0, s.Frequency)
	assert.Equal(t, 610.4, s.HashRate)
	assert.Equal(t, "4096", s.BestDiff)

	_, err = ParseTelemetry([]byte(`not json`))
	assert.Error(t, err)
}

func TestAxeOSClientSystemInfo(t *testing.T) {
	dev := newFakeDevice(t)
	client := NewAxeOSClient(dev.Host(), time.Second)

	s, err := client.SystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1180.0, s.Voltage)
	assert.Equal(t, 485.0, s.Frequency)
	assert.Equal(t, "1.2M", s.BestDiff)
}

func TestAxeOSClientPatchAndRestart(t *testing.T) {
	dev := newFakeDevice(t)
	client := NewAxeOSClient(dev.Host(), time.Second)

	require.NoError(t, client.PatchSystem(context.Background(), SystemPatch{Frequency: 550, Volts: 1250}))
	require.NoError(t, client.Restart(context.Background()))

	assert.Equal(t, []string{"PATCH system", "POST restart"}, dev.Calls())
	patches := dev.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, float64(550), patches[0]["frequency"])
	assert.Equal(t, float64(1250), patches[0]["volts"])
}

func TestAxeOSClientConfigurePool(t *testing.T) {
	dev := newFakeDevice(t)
	client := NewAxeOSClient(dev.Host(), time.Second)

	err := client.ConfigurePool(context.Background(), PoolPatch{
		StratumURL:      "192.168.1.10",
		StratumPort:     3333,
		StratumUser:     "chimera",
		StratumPassword: "x",
	})
	require.NoError(t, err)

	patches := dev.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "192.168.1.10", patches[0]["stratumURL"])
	assert.Equal(t, float64(3333), patches[0]["stratumPort"])
}

func TestAxeOSClientStatusError(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failWith("GET info", http.StatusInternalServerError)

	_, err := NewAxeOSClient(dev.Host(), time.Second).SystemInfo(context.Background())
	assert.Error(t, err)
}

func TestAxeOSClientUnreachable(t *testing.T) {
	dev := newFakeDevice(t)
	host := dev.Host()
	dev.server.Close()

	_, err := NewAxeOSClient(host, 200*time.Millisecond).SystemInfo(context.Background())
	assert.Error(t, err)
}
