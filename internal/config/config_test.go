package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults_MatchDocumentedValues(t *testing.T) {
	d := Defaults()
	require.Equal(t, 4, d.MinuteScreenshotWorkers)
	require.Equal(t, 0.70, d.VehicleSimilaritySameDay)
	require.True(t, d.HighRobustnessMode)
	require.Equal(t, "screenshots", d.ScreenshotRoot)
	require.Equal(t, 20, d.DBPoolSize)
	require.Equal(t, 40, d.DBMaxOverflow)
}

func TestLoad_MissingPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg.Tunables)
	require.Empty(t, cfg.NVRs)
}

func TestLoad_YAMLOverridesDefaultsAndParsesTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := `
batch_size: 99
high_robustness_mode: false
nvrs:
  - host: 10.0.0.5
    port: 554
    username: admin
    password: changeme
    parking_lot_name: "Lot A"
    channels:
      - code: ch1
        name: "Lot A North"
        camera_serial: "CAMA-0001"
        stalls:
          - id: A1
            name: "Row A - 1"
            region: { x: 100, y: 220, w: 180, h: 260 }
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 99, cfg.Tunables.BatchSize)
	require.False(t, cfg.Tunables.HighRobustnessMode)
	// Unset fields keep their default.
	require.Equal(t, 4, cfg.Tunables.MinuteScreenshotWorkers)

	require.Len(t, cfg.NVRs, 1)
	nvr := cfg.NVRs[0]
	require.Equal(t, "Lot A", nvr.ParkingLotName)
	require.Len(t, nvr.Channels, 1)
	require.Equal(t, "CAMA-0001", nvr.Channels[0].CameraSerial)
	require.Len(t, nvr.Channels[0].Stalls, 1)
	require.Equal(t, "A1", nvr.Channels[0].Stalls[0].ID)
	require.Equal(t, 100.0, nvr.Channels[0].Stalls[0].Region.X)
}

func TestLoad_EnvOverridesYAMLAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 99\nhigh_robustness_mode: true\n"), 0o644))
	t.Setenv("BATCH_SIZE", "7")
	t.Setenv("HIGH_ROBUSTNESS_MODE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Tunables.BatchSize)
	require.False(t, cfg.Tunables.HighRobustnessMode)
}

func TestTunables_DurationHelpersConvertUnits(t *testing.T) {
	tun := Defaults()
	require.Equal(t, 900_000_000_000.0, float64(tun.MaxTimeGap()))
	require.Equal(t, int64(300_000_000_000), tun.ShortInterval().Nanoseconds())
	require.Equal(t, int64(5*60_000_000_000), tun.FalseLeaveWindowMin().Nanoseconds())
	require.Equal(t, int64(15*60_000_000_000), tun.FalseLeaveWindowMax().Nanoseconds())
}
