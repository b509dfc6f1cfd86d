package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/voicefront/voicefront/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		wantLevel   bool
		wantTuning  config.TuningDiff
		wantRestart []string
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
		},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name: "tuning fields",
			mutate: func(c *config.Config) {
				c.Capture.VADThreshold = 0.5
				c.Capture.InactivityTimeout = time.Second
				c.Capture.RearmWakeWord = true
				c.Capture.ContinuousMoments = true
			},
			wantTuning: config.TuningDiff{
				VADThreshold:      true,
				InactivityTimeout: true,
				RearmWakeWord:     true,
				ContinuousMoments: true,
			},
		},
		{
			name:        "listen addr requires restart",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1" },
			wantRestart: []string{"server"},
		},
		{
			name: "providers and capture rate require restart",
			mutate: func(c *config.Config) {
				c.Providers.STT.APIKey = "rotated"
				c.Capture.SampleRate = 16000
			},
			wantRestart: []string{"providers", "capture"},
		},
		{
			name: "tuning alongside restart",
			mutate: func(c *config.Config) {
				c.Capture.VADThreshold = 0.9
				c.Backend.ChatURL = "http://other"
				c.Playback.Enabled = true
			},
			wantTuning:  config.TuningDiff{VADThreshold: true},
			wantRestart: []string{"playback", "backend"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := load(t, minimalYAML)
			updated := load(t, minimalYAML)
			tc.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged: got %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if d.Tuning != tc.wantTuning {
				t.Errorf("Tuning: got %+v, want %+v", d.Tuning, tc.wantTuning)
			}
			if d.TuningChanged != (tc.wantTuning != config.TuningDiff{}) {
				t.Errorf("TuningChanged: got %v", d.TuningChanged)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			wantEmpty := !tc.wantLevel && tc.wantTuning == (config.TuningDiff{}) && len(tc.wantRestart) == 0
			if d.Empty() != wantEmpty {
				t.Errorf("Empty(): got %v, want %v", d.Empty(), wantEmpty)
			}
		})
	}
}

func TestDiff_NewLogLevel(t *testing.T) {
	t.Parallel()
	old := load(t, minimalYAML)
	updated := load(t, minimalYAML)
	updated.Server.LogLevel = config.LogError

	d := config.Diff(old, updated)
	if d.NewLogLevel != config.LogError {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogError)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not require restart, got %v", d.RestartRequired)
	}
}
