package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"SSHSpectra/internal/model"
)

// Cached memoizes the predictions of another classifier. Handshakes of the
// same client and server software produce identical vectors, so most
// batches are answered from the cache.
type Cached struct {
	inner model.MacClassifier
	cache *cache.Cache
}

// NewCached wraps inner with a cache whose entries expire after expiration.
func NewCached(inner model.MacClassifier, expiration, cleanup time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache.New(expiration, cleanup)}
}

// Predict implements model.MacClassifier. Only vectors missing from the
// cache are passed to the wrapped classifier, in one call.
func (c *Cached) Predict(ctx context.Context, vectors []model.FeatureVector) ([]string, error) {
	out := make([]string, len(vectors))
	var (
		missing []model.FeatureVector
		slots   [][]int
		byKey   = make(map[string]int)
	)
	for i, v := range vectors {
		key := v.Key()
		if label, ok := c.cache.Get(key); ok {
			out[i] = label.(string)
			continue
		}
		if m, ok := byKey[key]; ok {
			slots[m] = append(slots[m], i)
			continue
		}
		byKey[key] = len(missing)
		missing = append(missing, v)
		slots = append(slots, []int{i})
	}
	if len(missing) == 0 {
		return out, nil
	}

	labels, err := c.inner.Predict(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(missing) {
		return nil, fmt.Errorf("classifier returned %d labels for %d vectors", len(labels), len(missing))
	}
	for m, label := range labels {
		c.cache.SetDefault(missing[m].Key(), label)
		for _, i := range slots[m] {
			out[i] = label
		}
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}
