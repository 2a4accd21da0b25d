package core

import (
	"context"
	"strings"

	"reactorboard/pkg/domain"
)

// ListExperiments returns every experiment, newest first.
func (s *Service) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	var out []domain.Experiment
	err := s.withCentral(ctx, "list_experiments", func(sess domain.CentralSession) error {
		var err error
		out, err = sess.ListExperiments(ctx)
		return err
	})
	return out, err
}

// LatestExperiment returns the current experiment with the hours elapsed
// since it was created.
func (s *Service) LatestExperiment(ctx context.Context) (domain.LatestExperiment, error) {
	var out domain.LatestExperiment
	err := s.withCentral(ctx, "latest_experiment", func(sess domain.CentralSession) error {
		exp, err := sess.CurrentExperiment(ctx)
		if err != nil {
			return err
		}
		out = domain.LatestExperiment{
			Experiment: exp,
			DeltaHours: Round(s.clock.Now().Sub(exp.CreatedAt).Hours(), 2),
		}
		return nil
	})
	return out, err
}

// CreateExperiment starts a new experiment. A duplicate identifier yields a
// ConflictError. CreatedAt defaults to now.
func (s *Service) CreateExperiment(ctx context.Context, exp domain.Experiment) (domain.Experiment, error) {
	exp.ID = strings.TrimSpace(exp.ID)
	if exp.ID == "" {
		return domain.Experiment{}, domain.ValidationError{Field: "experiment", Reason: "identifier is required"}
	}
	if domain.IsCurrentExperiment(exp.ID) || strings.ContainsAny(exp.ID, "/+#") {
		return domain.Experiment{}, domain.ValidationError{Field: "experiment", Reason: "identifier must not be a sentinel or contain / + #"}
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = s.clock.Now()
	}
	exp.CreatedAt = exp.CreatedAt.UTC()
	err := s.withCentral(ctx, "create_experiment", func(sess domain.CentralSession) error {
		_, err := sess.CreateExperiment(ctx, exp)
		return err
	})
	if err != nil {
		return domain.Experiment{}, err
	}
	return exp, nil
}

// UpdateExperimentDescription replaces an experiment's description.
func (s *Service) UpdateExperimentDescription(ctx context.Context, id, description string) error {
	if domain.IsCurrentExperiment(id) {
		return domain.ValidationError{Field: "experiment", Reason: "an explicit identifier is required"}
	}
	return s.withCentral(ctx, "update_experiment_description", func(sess domain.CentralSession) error {
		n, err := sess.UpdateExperimentDescription(ctx, id, description)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.NotFoundError{Entity: "experiment", ID: id}
		}
		return nil
	})
}

// Historical kinds accepted by HistoricalValues.
const (
	HistoricalOrganisms = "organisms"
	HistoricalMedia     = "media"
)

// HistoricalValues lists the distinct organisms or media recorded on past
// experiments, most recent first.
func (s *Service) HistoricalValues(ctx context.Context, kind string) ([]string, error) {
	var out []string
	err := s.withCentral(ctx, "historical_"+kind, func(sess domain.CentralSession) error {
		var err error
		switch kind {
		case HistoricalOrganisms:
			out, err = sess.HistoricalOrganisms(ctx)
		case HistoricalMedia:
			out, err = sess.HistoricalMedia(ctx)
		default:
			err = domain.ValidationError{Field: "kind", Reason: "must be organisms or media"}
		}
		return err
	})
	return out, err
}
