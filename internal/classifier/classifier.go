// Package classifier provides the MAC category classifiers used to pick the
// cipher/MAC pair of a flow from its packet sizes.
package classifier

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

// None is used when no model is configured. It predicts an empty label for
// every vector, so the detectors fall back to default packet sizes.
type None struct{}

// Predict implements model.MacClassifier.
func (None) Predict(_ context.Context, vectors []model.FeatureVector) ([]string, error) {
	return make([]string, len(vectors)), nil
}

// New creates the classifier selected by cfg, wrapped in a prediction cache
// when enabled. The returned close function releases its resources.
func New(cfg config.ClassifierConfig, logger log.FieldLogger) (model.MacClassifier, func() error, error) {
	var (
		clf     model.MacClassifier
		closeFn = func() error { return nil }
	)
	switch cfg.Type {
	case "none", "":
		logger.Info("Classifier: no MAC model configured, using default packet sizes")
		return None{}, closeFn, nil
	case "forest":
		forest, err := LoadForest(cfg.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load MAC model: %w", err)
		}
		logger.WithField("classes", len(forest.Classes())).Infof("Classifier: loaded forest from %s", cfg.ModelPath)
		clf = forest
	case "grpc":
		remote, err := Dial(cfg.GRPC)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial MAC classifier: %w", err)
		}
		logger.Infof("Classifier: using remote service at %s", cfg.GRPC.Addr)
		clf, closeFn = remote, remote.Close
	default:
		return nil, nil, fmt.Errorf("unknown classifier type: %s", cfg.Type)
	}

	if cfg.Cache.Enabled {
		clf = NewCached(clf, cfg.Cache.Expiration, cfg.Cache.Cleanup)
	}
	return clf, closeFn, nil
}
