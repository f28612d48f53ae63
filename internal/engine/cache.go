package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/promptforge-ai/demon-engine/internal/composer"
	"github.com/promptforge-ai/demon-engine/internal/signals"
)

// pipelineCache memoizes composed pipelines keyed by request fingerprint.
// Entries are only ever reused for an identical (signals, mode) pair.
type pipelineCache struct {
	cache *ristretto.Cache
}

func newPipelineCache(maxEntries int64) (*pipelineCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &pipelineCache{cache: cache}, nil
}

// fingerprint hashes every signal that influences composition plus the mode.
// The embedding is a deterministic function of the cleaned text, so the text
// itself stands in for it.
func fingerprint(analysis *signals.QueryAnalysis, mode Mode) string {
	h := sha256.New()
	h.Write([]byte(analysis.CleanedText))
	h.Write([]byte{0})
	h.Write([]byte(analysis.Intent))
	h.Write([]byte{0})
	h.Write([]byte(analysis.Complexity))
	h.Write([]byte{0})
	h.Write([]byte(analysis.Format))
	h.Write([]byte{0})
	h.Write([]byte(analysis.Tone))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(analysis.Constraints, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(analysis.Commands, ",")))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *pipelineCache) get(key string) (*composer.Pipeline, bool) {
	if c == nil {
		return nil, false
	}
	value, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	pipeline, ok := value.(*composer.Pipeline)
	return pipeline, ok
}

func (c *pipelineCache) put(key string, pipeline *composer.Pipeline) {
	if c == nil {
		return
	}
	c.cache.Set(key, pipeline, 1)
}
