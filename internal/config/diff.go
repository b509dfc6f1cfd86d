package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged is true if any hot-reloadable capture field changed.
	TuningChanged bool
	Tuning        TuningDiff

	// RestartRequired names the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// TuningDiff flags the hot-reloadable capture fields that changed.
type TuningDiff struct {
	VADThreshold      bool
	InactivityTimeout bool
	RearmWakeWord     bool
	ContinuousMoments bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TuningChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Capture, new.Capture
	d.Tuning = TuningDiff{
		VADThreshold:      oc.VADThreshold != nc.VADThreshold,
		InactivityTimeout: oc.InactivityTimeout != nc.InactivityTimeout,
		RearmWakeWord:     oc.RearmWakeWord != nc.RearmWakeWord,
		ContinuousMoments: oc.ContinuousMoments != nc.ContinuousMoments,
	}
	d.TuningChanged = d.Tuning != TuningDiff{}

	// Compare the rest of capture with the tuning fields masked out.
	oc.VADThreshold, nc.VADThreshold = 0, 0
	oc.InactivityTimeout, nc.InactivityTimeout = 0, 0
	oc.RearmWakeWord, nc.RearmWakeWord = false, false
	oc.ContinuousMoments, nc.ContinuousMoments = false, false

	osrv, nsrv := old.Server, new.Server
	osrv.LogLevel, nsrv.LogLevel = "", ""

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", osrv, nsrv},
		{"providers", old.Providers, new.Providers},
		{"capture", oc, nc},
		{"playback", old.Playback, new.Playback},
		{"backend", old.Backend, new.Backend},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
