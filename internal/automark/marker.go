// Package automark accumulates genuine watch time from playback
// samples and decides when an episode counts as watched.
package automark

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the decision thresholds. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// RemainingThresholdSec: the episode end is near when this little
	// playback time is left.
	RemainingThresholdSec float64
	// EndPercent: alternative end condition on playback position.
	EndPercent float64
	// MinWatchSecondsFloor: lower bound for the required watch time.
	MinWatchSecondsFloor float64
	// MinWatchPercent: alternative minimum on watched/duration.
	MinWatchPercent float64
	// MaxCountableDeltaSec: a tick-to-tick position jump above this is
	// a seek, not playback, and is not counted.
	MaxCountableDeltaSec float64
	// TickInterval is the expected sample cadence.
	TickInterval time.Duration
	// ReportEverySec: a progress snapshot is logged every time this
	// much watch time accumulates.
	ReportEverySec float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		RemainingThresholdSec: 30,
		EndPercent:            0.85,
		MinWatchSecondsFloor:  60,
		MinWatchPercent:       0.3,
		MaxCountableDeltaSec:  1.25,
		TickInterval:          time.Second,
		ReportEverySec:        15,
	}
}

// Sample is one playback observation.
type Sample struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
}

// Snapshot exposes marker state for diagnostics.
type Snapshot struct {
	RunID      string  `json:"runId"`
	Key        string  `json:"key"`
	Watched    float64 `json:"watchedSeconds"`
	LastTime   float64 `json:"lastTime"`
	Seeking    bool    `json:"seeking"`
	Marked     bool    `json:"marked"`
	MarkedKeys int     `json:"markedKeys"`
}

// EnabledFunc reports whether automatic marking is currently on. It is
// consulted on every tick so a toggle takes effect mid-episode.
type EnabledFunc func(ctx context.Context) (bool, error)

// MarkFunc is invoked once per episode key when the decision fires.
type MarkFunc func(ctx context.Context, key string)

// Marker tracks one playback attachment.
type Marker struct {
	cfg     Config
	enabled EnabledFunc
	onMark  MarkFunc
	logger  *slog.Logger

	mu         sync.Mutex
	runID      string
	key        string
	watched    float64
	lastT      float64
	haveLastT  bool
	seeking    bool
	marked     map[string]bool
	nextReport float64
}

// NewMarker creates a marker. enabled and onMark may be nil, in which
// case marking is always on and triggers are only logged.
func NewMarker(cfg Config, enabled EnabledFunc, onMark MarkFunc, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Marker{
		cfg:        cfg,
		enabled:    enabled,
		onMark:     onMark,
		logger:     logger,
		runID:      uuid.NewString(),
		marked:     make(map[string]bool),
		nextReport: cfg.ReportEverySec,
	}
}

// SetKey switches the marker to a new episode key, resetting the
// accumulator. Keys that were already marked stay marked for the life
// of the attachment, so flipping back to a finished episode cannot
// mark it twice.
func (m *Marker) SetKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == m.key {
		return
	}

	m.logger.Debug("episode key changed", "runId", m.runID, "from", m.key, "to", key)
	m.key = key
	m.watched = 0
	m.haveLastT = false
	m.seeking = false
	m.nextReport = m.cfg.ReportEverySec
}

// OnSeeking flags that position jumps are in progress.
func (m *Marker) OnSeeking() {
	m.mu.Lock()
	m.seeking = true
	m.mu.Unlock()
}

// OnSeeked resyncs the reference position after a seek.
func (m *Marker) OnSeeked(currentTime float64) {
	m.mu.Lock()
	m.seeking = false
	m.lastT = currentTime
	m.haveLastT = true
	m.mu.Unlock()
}

// OnPlay resyncs the reference position when playback resumes.
func (m *Marker) OnPlay(currentTime float64) {
	m.mu.Lock()
	m.lastT = currentTime
	m.haveLastT = true
	m.mu.Unlock()
}

// Tick feeds one playback sample. It returns true when this sample
// fired the mark decision for the current key.
func (m *Marker) Tick(ctx context.Context, s Sample) bool {
	if m.enabled != nil {
		on, err := m.enabled(ctx)
		if err != nil {
			m.logger.Warn("enabled check failed", "error", err)
			return false
		}
		if !on {
			// Keep the reference position current while disabled so a
			// re-enable does not count the gap as watch time.
			m.mu.Lock()
			m.lastT = s.CurrentTime
			m.haveLastT = true
			m.mu.Unlock()
			return false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Duration <= 0 {
		return false
	}

	if m.haveLastT && !s.Paused && !m.seeking {
		dt := s.CurrentTime - m.lastT
		if dt > 0 && dt <= m.cfg.MaxCountableDeltaSec {
			m.watched += dt
		}
	}
	m.lastT = s.CurrentTime
	m.haveLastT = true

	if m.watched >= m.nextReport {
		m.logger.Debug("watch progress",
			"runId", m.runID,
			"key", m.key,
			"watched", m.watched,
			"position", s.CurrentTime,
			"duration", s.Duration,
		)
		m.nextReport += m.cfg.ReportEverySec
	}

	if m.key == "" || m.marked[m.key] {
		return false
	}

	if !m.shouldMark(s) {
		return false
	}

	m.marked[m.key] = true
	key := m.key
	m.logger.Info("episode watched",
		"runId", m.runID,
		"key", key,
		"watched", m.watched,
		"duration", s.Duration,
	)

	if m.onMark != nil {
		// Release the lock around the callback: commits do I/O and may
		// call back into the marker.
		m.mu.Unlock()
		m.onMark(ctx, key)
		m.mu.Lock()
	}
	return true
}

// shouldMark is the decision predicate: enough of the episode was
// genuinely watched, and playback has reached the end region.
func (m *Marker) shouldMark(s Sample) bool {
	minWatch := m.cfg.MinWatchSecondsFloor
	if d := s.Duration * 0.2; d > minWatch {
		minWatch = d
	}

	okMin := m.watched >= minWatch ||
		(s.Duration > 0 && m.watched/s.Duration >= m.cfg.MinWatchPercent)

	remaining := s.Duration - s.CurrentTime
	okEnd := remaining <= m.cfg.RemainingThresholdSec ||
		(s.Duration > 0 && s.CurrentTime/s.Duration >= m.cfg.EndPercent)

	return okMin && okEnd
}

// Snapshot returns the current state for diagnostics.
func (m *Marker) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		RunID:      m.runID,
		Key:        m.key,
		Watched:    m.watched,
		LastTime:   m.lastT,
		Seeking:    m.seeking,
		Marked:     m.marked[m.key],
		MarkedKeys: len(m.marked),
	}
}

// SampleSource supplies playback samples for Run.
type SampleSource interface {
	Sample(ctx context.Context) (Sample, error)
}

// Run polls the source at the configured tick interval until the
// context is cancelled. HTTP deployments push samples through Tick
// directly; Run is for embedding against a local player.
func (m *Marker) Run(ctx context.Context, src SampleSource) error {
	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, err := src.Sample(ctx)
			if err != nil {
				m.logger.Warn("sample failed", "error", err)
				continue
			}
			m.Tick(ctx, s)
		}
	}
}
