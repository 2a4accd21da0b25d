package core

import (
	"context"

	"reactorboard/pkg/domain"
)

// ExportDataset streams every row of dataset recorded for experiment into
// sink and returns the row count. The current experiment sentinel is
// resolved first; exports are never time bounded.
func (s *Service) ExportDataset(ctx context.Context, dataset, experiment string, sink domain.RowSink) (int, error) {
	if !domain.IsDataset(dataset) {
		return 0, domain.ValidationError{Field: "dataset", Reason: "unknown dataset " + dataset}
	}
	var n int
	err := s.withCentral(ctx, "export_dataset", func(sess domain.CentralSession) error {
		b, err := boundaryFor(ctx, sess, experiment)
		if err != nil {
			return err
		}
		n, err = sess.ExportDataset(ctx, dataset, b.Experiment, sink)
		return err
	})
	return n, err
}
