package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, 25_000_000, cfg.HTTP.MaxFramePixels)
	assert.Equal(t, 0.9, cfg.Scanner.CropWidthFraction)
	assert.Equal(t, 0.4, cfg.Scanner.CropHeightFraction)
	assert.Equal(t, 40.0, cfg.Scanner.MinConfidence)
	assert.Equal(t, 4, cfg.Scanner.MinLength)
	assert.Equal(t, 500*time.Millisecond, cfg.Scanner.Interval)
	assert.Equal(t, 3*time.Second, cfg.Scanner.LookupTimeout)
	assert.Equal(t, DefaultAlphabet, cfg.Scanner.Alphabet)
	assert.Equal(t, 90, cfg.Scanner.EventRetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Scanner.CleanupInterval)
	assert.Equal(t, OCRProviderRekognition, cfg.OCR.Provider)
	assert.False(t, cfg.Gate.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
scanner:
  min_confidence: 30
  min_length: 3
  interval: 250ms
ocr:
  provider: http
  endpoint: http://ocr.local/recognize
cameras:
  - id: gate-1
    snapshot_url: http://10.0.0.5/snapshot.jpg
    timeout: 2s
`)
	t.Setenv("CHECKIN_SCANNER_MIN_LENGTH", "5")
	t.Setenv("CHECKIN_HTTP_ADDRESS", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Scanner.MinConfidence)
	assert.Equal(t, 5, cfg.Scanner.MinLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.Interval)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, OCRProviderHTTP, cfg.OCR.Provider)

	cam, ok := cfg.Camera("gate-1")
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.5/snapshot.jpg", cam.SnapshotURL)
	assert.Equal(t, 2*time.Second, cam.Timeout)

	_, ok = cfg.Camera("gate-2")
	assert.False(t, ok)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTP: HTTPConfig{MaxFramePixels: 1_000_000},
			Scanner: ScannerConfig{
				CropWidthFraction:  0.9,
				CropHeightFraction: 0.4,
				MinConfidence:      40,
				MinLength:          4,
				Interval:           500 * time.Millisecond,
				LookupTimeout:      3 * time.Second,
			},
			OCR: OCRConfig{Provider: OCRProviderRekognition},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"zero frame pixels":       func(c *Config) { c.HTTP.MaxFramePixels = 0 },
		"zero width fraction":     func(c *Config) { c.Scanner.CropWidthFraction = 0 },
		"height fraction above 1": func(c *Config) { c.Scanner.CropHeightFraction = 1.2 },
		"confidence above 100":    func(c *Config) { c.Scanner.MinConfidence = 101 },
		"zero min length":         func(c *Config) { c.Scanner.MinLength = 0 },
		"zero interval":           func(c *Config) { c.Scanner.Interval = 0 },
		"zero lookup timeout":     func(c *Config) { c.Scanner.LookupTimeout = 0 },
		"unknown provider":        func(c *Config) { c.OCR.Provider = "magic" },
		"http without endpoint":   func(c *Config) { c.OCR.Provider = OCRProviderHTTP },
		"gate without endpoint":   func(c *Config) { c.Gate.Enabled = true },
		"camera without url":      func(c *Config) { c.Cameras = []CameraConfig{{ID: "a"}} },
		"duplicate camera": func(c *Config) {
			c.Cameras = []CameraConfig{{ID: "a", SnapshotURL: "x"}, {ID: "a", SnapshotURL: "y"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
