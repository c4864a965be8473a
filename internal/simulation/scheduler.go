package simulation

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/blesim-core/internal/device"
)

// Generator constants.
const (
	// DefaultInterval is the generator tick.
	DefaultInterval = 500 * time.Millisecond

	// DefaultTarget is the target for devices enabled without one.
	DefaultTarget = 70

	// ValueKey is the device value the generator drives.
	ValueKey = "heart_rate"

	phaseStep      = 0.2
	sineAmplitude  = 2.0
	noiseAmplitude = 0.6
	rampThreshold  = 3.0
	rampStep       = 1.0
	smoothingGain  = 0.2
	minHeartRate   = 30
	maxHeartRate   = 220
)

// Publisher sends commanded values to a board.
type Publisher interface {
	IsConnected() bool
	SetDeviceValues(deviceID string, values device.Values) error
}

// Store is the subset of the device registry the scheduler writes to.
type Store interface {
	IsTombstoned(id string) bool
	Update(id string, u device.Update) bool
}

// Broadcaster pushes events to live consumers.
type Broadcaster interface {
	Broadcast(msg any)
}

// HistoryWriter records emitted values.
type HistoryWriter interface {
	WriteDeviceValues(deviceID string, values map[string]any)
}

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the scheduler's collaborators. Store is required; the rest
// may be nil.
type Deps struct {
	Store       Store
	Publisher   Publisher
	Broadcaster Broadcaster
	History     HistoryWriter
	Logger      Logger

	// Interval overrides DefaultInterval when positive.
	Interval time.Duration

	// DefaultTarget overrides DefaultTarget when positive.
	DefaultTarget int
}

// State is the externally visible simulation state of one device.
type State struct {
	Enabled bool `json:"enabled"`
	Target  int  `json:"target"`
	Current int  `json:"current"`
}

// deviceState is kept after Disable so a re-enable resumes from the last
// value.
type deviceState struct {
	target  int
	current float64
	phase   float64
	enabled bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the per-device generators.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	states map[string]*deviceState

	store       Store
	publisher   Publisher
	broadcaster Broadcaster
	history     HistoryWriter
	logger      Logger

	interval      time.Duration
	defaultTarget int
	random        func() float64
}

// New creates a Scheduler.
func New(deps Deps) *Scheduler {
	s := &Scheduler{
		states:        make(map[string]*deviceState),
		store:         deps.Store,
		publisher:     deps.Publisher,
		broadcaster:   deps.Broadcaster,
		history:       deps.History,
		logger:        deps.Logger,
		interval:      deps.Interval,
		defaultTarget: deps.DefaultTarget,
		random:        rand.Float64,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.defaultTarget <= 0 {
		s.defaultTarget = DefaultTarget
	}
	return s
}

// stateLocked returns the state for id, creating it at target when absent.
// Caller holds mu.
func (s *Scheduler) stateLocked(id string, target int) (*deviceState, bool) {
	if st, ok := s.states[id]; ok {
		return st, false
	}
	st := &deviceState{
		target:  target,
		current: float64(target),
		phase:   s.random() * 2 * math.Pi,
	}
	s.states[id] = st
	return st, true
}

// Enable starts the generator for id. A supplied target is applied even
// when the generator is already running, in which case nothing else
// changes.
func (s *Scheduler) Enable(id string, target *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	initial := s.defaultTarget
	if target != nil {
		initial = *target
	}
	st, created := s.stateLocked(id, initial)
	if !created && target != nil {
		st.target = *target
	}

	if st.enabled && st.done != nil {
		select {
		case <-st.done:
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	st.enabled = true
	st.cancel = cancel
	st.done = make(chan struct{})

	go s.run(ctx, id, st.done)

	s.logger.Info("simulation enabled", "device_id", id, "target", st.target)
}

// Disable stops the generator for id and waits for it to exit. Unknown or
// already disabled devices are a no-op.
func (s *Scheduler) Disable(id string) {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	wasEnabled := st.enabled
	st.enabled = false
	cancel, done := st.cancel, st.done
	st.cancel, st.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if wasEnabled {
		s.logger.Info("simulation disabled", "device_id", id)
	}
}

// SetTarget changes the target for id. When no generator is running the
// target is emitted once immediately.
func (s *Scheduler) SetTarget(id string, target int) {
	s.mu.Lock()
	st, created := s.stateLocked(id, target)
	if !created {
		st.target = target
	}
	enabled := st.enabled
	s.mu.Unlock()

	if !enabled {
		s.emit(id, target)
	}
}

// State returns the simulation state for id. Unknown devices report
// disabled at the default target.
func (s *Scheduler) State(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return State{Enabled: false, Target: s.defaultTarget, Current: s.defaultTarget}
	}
	return State{
		Enabled: st.enabled,
		Target:  st.target,
		Current: int(math.Round(st.current)),
	}
}

// Running returns the IDs with an active generator.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, st := range s.states {
		if st.enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAll disables every running generator and waits for all of them.
func (s *Scheduler) StopAll() {
	var g errgroup.Group
	for _, id := range s.Running() {
		g.Go(func() error {
			s.Disable(id)
			return nil
		})
	}
	_ = g.Wait()
}

// run is the generator loop for one device.
func (s *Scheduler) run(ctx context.Context, id string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastSent := -1
	for {
		s.mu.Lock()
		value := s.step(s.states[id])
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if value != lastSent {
			lastSent = value
			s.emit(id, value)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step advances st by one tick and returns the rounded, clamped value.
// Caller holds mu.
func (s *Scheduler) step(st *deviceState) int {
	st.phase += phaseStep

	sine := math.Sin(st.phase) * sineAmplitude
	noise := (s.random() - 0.5) * noiseAmplitude
	ideal := float64(st.target) + sine + noise

	if math.Abs(ideal-st.current) > rampThreshold {
		if ideal > st.current {
			st.current += rampStep
		} else {
			st.current -= rampStep
		}
	} else {
		st.current += (ideal - st.current) * smoothingGain
	}

	return int(math.Round(math.Max(minHeartRate, math.Min(maxHeartRate, st.current))))
}

// emit delivers one heart-rate value.
func (s *Scheduler) emit(id string, hr int) {
	if s.store.IsTombstoned(id) {
		s.logger.Debug("skipping value for tombstoned device", "device_id", id)
		return
	}

	values := device.Values{ValueKey: hr}

	if s.publisher != nil && s.publisher.IsConnected() {
		if err := s.publisher.SetDeviceValues(id, values); err != nil {
			s.logger.Warn("publishing simulated value failed", "device_id", id, "error", err)
		}
	}

	if !s.store.Update(id, device.Update{Values: values}) {
		return
	}

	if s.history != nil {
		s.history.WriteDeviceValues(id, values)
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(device.NewHRUpdate(id, hr))
	}
}
