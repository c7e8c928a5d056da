package reconstruction

import (
	"context"

	"github.com/pkg/errors"

	"brainsharer/internal/models"
	"brainsharer/pkg/coords"
	"brainsharer/pkg/session"
)

// Saved is one stored session and the number of rows written to it.
type Saved struct {
	Session models.Session
	Rows    int
}

// SaveLayer stores a layer as annotation sessions of owner. Every volume is
// rasterized before anything is written, so a layer that cannot be drawn
// leaves the store untouched. Nothing is saved for a layer without
// annotations.
func (r *Reconstructor) SaveLayer(ctx context.Context, store *session.Store, layerJSON []byte, owner session.Owner) ([]Saved, error) {
	g, err := r.parse(layerJSON)
	if err != nil {
		return nil, err
	}
	if err := r.Prepare(ctx, g); err != nil {
		return nil, err
	}
	if _, err := r.buildAll(ctx, g); err != nil {
		return nil, err
	}

	n, err := coords.NewNormalizer(r.params.Scale)
	if err != nil {
		return nil, err
	}
	batches, err := session.BuildBatches(g, n, owner)
	if err != nil {
		return nil, errors.Wrap(err, "group sessions")
	}
	if len(batches) == 0 {
		return nil, nil
	}

	var sessions []models.Session
	err = r.stage("save", func() (err error) {
		sessions, err = store.SaveAll(ctx, batches)
		return err
	})
	if err != nil {
		return nil, err
	}
	saved := make([]Saved, len(sessions))
	for i, sess := range sessions {
		saved[i] = Saved{Session: sess, Rows: batches[i].Len()}
	}
	r.log.Infof("Layer %q: stored %d sessions for %s", g.Name, len(saved), owner.Animal)
	return saved, nil
}
