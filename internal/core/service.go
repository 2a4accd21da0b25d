package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// QueryDefaults are the request parameters applied when a caller omits them.
type QueryDefaults struct {
	SamplingRate   int
	LookbackHours  float64
	LogWindow      time.Duration
	LogLimit       int
	MediaRateHours float64
}

// DefaultQueryDefaults returns the stock dashboard defaults.
func DefaultQueryDefaults() QueryDefaults {
	return QueryDefaults{
		SamplingRate:   DefaultSamplingRate,
		LookbackHours:  4,
		LogWindow:      24 * time.Hour,
		LogLimit:       50,
		MediaRateHours: 3,
	}
}

// Service exposes the dashboard's query and experiment operations over the
// central store and the local cache.
type Service struct {
	gate     role.Gate
	central  domain.CentralStore
	local    domain.LocalCache
	clock    Clock
	logger   *zap.Logger
	metrics  MetricsRecorder
	defaults QueryDefaults
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the operation recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithQueryDefaults replaces the request defaults. Non-positive fields keep
// their stock value.
func WithQueryDefaults(d QueryDefaults) Option {
	return func(s *Service) {
		if d.SamplingRate > 0 {
			s.defaults.SamplingRate = d.SamplingRate
		}
		if d.LookbackHours > 0 {
			s.defaults.LookbackHours = d.LookbackHours
		}
		if d.LogWindow > 0 {
			s.defaults.LogWindow = d.LogWindow
		}
		if d.LogLimit > 0 {
			s.defaults.LogLimit = d.LogLimit
		}
		if d.MediaRateHours > 0 {
			s.defaults.MediaRateHours = d.MediaRateHours
		}
	}
}

// NewService constructs a service. central may be nil on follower units.
func NewService(gate role.Gate, central domain.CentralStore, local domain.LocalCache, opts ...Option) *Service {
	s := &Service{
		gate:     gate,
		central:  central,
		local:    local,
		clock:    ClockFunc(nil),
		logger:   zap.NewNop(),
		defaults: DefaultQueryDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Gate returns the process role.
func (s *Service) Gate() role.Gate { return s.gate }

// Defaults returns the effective request defaults.
func (s *Service) Defaults() QueryDefaults { return s.defaults }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// NewHandles returns request handles bound to the service's stores.
func (s *Service) NewHandles() *Handles { return NewHandles(s.central, s.local) }

// withCentral runs fn on a central session after checking the role. The
// outcome is logged and recorded under operation.
func (s *Service) withCentral(ctx context.Context, operation string, fn func(domain.CentralSession) error) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, operation, start, err) }()
	if err = s.gate.Require(operation); err != nil {
		return err
	}
	sess, release, err := CentralSession(ctx, s.central)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := release(); cerr != nil {
			s.logger.Warn("release central session", zap.String("operation", operation), zap.Error(cerr))
		}
	}()
	return fn(sess)
}

// withLocal runs fn on a local cache session.
func (s *Service) withLocal(ctx context.Context, operation string, fn func(domain.LocalSession) error) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, operation, start, err) }()
	sess, release, err := LocalSession(ctx, s.local)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := release(); cerr != nil {
			s.logger.Warn("release local session", zap.String("operation", operation), zap.Error(cerr))
		}
	}()
	return fn(sess)
}

func (s *Service) observe(ctx context.Context, operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, elapsed)
	}
	switch {
	case err == nil:
		s.logger.Debug("operation complete", zap.String("operation", operation), zap.Duration("elapsed", elapsed))
	case domain.IsValidation(err), domain.IsNotFound(err), domain.IsConflict(err):
		s.logger.Info("operation rejected", zap.String("operation", operation), zap.Error(err))
	default:
		s.logger.Error("operation failed", zap.String("operation", operation), zap.Error(err))
	}
}
