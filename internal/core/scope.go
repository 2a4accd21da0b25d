package core

import (
	"context"
	"time"

	"reactorboard/pkg/domain"
)

// Boundary is the resolved scope of an experiment-bound query.
type Boundary struct {
	Experiment string
	// Current is true when the caller asked for the current experiment.
	Current bool
	// Since is the inclusive lower time bound; zero when the caller named an
	// experiment explicitly.
	Since time.Time
}

// ResolveCurrent returns the experiment with the latest creation time. Ties
// go to the highest identifier. It fails with NotFoundError when no
// experiment exists.
func (s *Service) ResolveCurrent(ctx context.Context) (domain.Experiment, error) {
	var exp domain.Experiment
	err := s.withCentral(ctx, "resolve_current_experiment", func(sess domain.CentralSession) error {
		var err error
		exp, err = sess.CurrentExperiment(ctx)
		return err
	})
	return exp, err
}

// BoundaryFor resolves experiment into a query boundary. The current
// experiment sentinel yields the current experiment bounded by its creation
// time; an explicit identifier yields that experiment with no time bound.
func (s *Service) BoundaryFor(ctx context.Context, experiment string) (Boundary, error) {
	var b Boundary
	err := s.withCentral(ctx, "experiment_boundary", func(sess domain.CentralSession) error {
		var err error
		b, err = boundaryFor(ctx, sess, experiment)
		return err
	})
	return b, err
}

func boundaryFor(ctx context.Context, sess domain.CentralSession, experiment string) (Boundary, error) {
	if !domain.IsCurrentExperiment(experiment) {
		return Boundary{Experiment: experiment}, nil
	}
	current, err := sess.CurrentExperiment(ctx)
	if err != nil {
		return Boundary{}, err
	}
	return Boundary{Experiment: current.ID, Current: true, Since: current.CreatedAt}, nil
}

// RecentSince returns the later of now-window and the boundary's lower bound.
func RecentSince(now time.Time, window time.Duration, b Boundary) time.Time {
	since := now.Add(-window)
	if b.Since.After(since) {
		return b.Since
	}
	return since
}
