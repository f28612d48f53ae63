package compendium

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/promptforge-ai/demon-engine/internal/embeddings"
)

// EmbeddingCache lets the loader skip re-embedding techniques whose
// descriptive text has not changed between process generations. Implemented
// by the storage package; a nil cache disables warm starts.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, techniqueID, descHash string) ([]float32, bool)
	PutEmbedding(ctx context.Context, techniqueID, descHash string, vec []float32) error
}

// LoadFile reads and validates a JSON technique catalog
func LoadFile(path string) ([]Technique, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates a JSON technique catalog from raw bytes
func Parse(data []byte) ([]Technique, error) {
	var techniques []Technique
	if err := json.Unmarshal(data, &techniques); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(techniques) == 0 {
		return nil, fmt.Errorf("catalog contains no techniques")
	}

	seen := make(map[string]bool, len(techniques))
	for i := range techniques {
		t := &techniques[i]
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate technique id %q", t.ID)
		}
		seen[t.ID] = true
	}

	// Relation targets must resolve within the catalog
	for i := range techniques {
		t := &techniques[i]
		for _, ref := range t.ConflictsWith {
			if !seen[ref] {
				return nil, fmt.Errorf("technique %q conflicts with unknown technique %q", t.ID, ref)
			}
		}
		for _, ref := range t.ComplementaryTechniques {
			if !seen[ref] {
				return nil, fmt.Errorf("technique %q complements unknown technique %q", t.ID, ref)
			}
		}
	}

	return techniques, nil
}

// DescriptionHash fingerprints the descriptive text that feeds a technique's
// embedding. The embedding is recomputed only when this hash changes.
func DescriptionHash(t *Technique) string {
	tags := make([]string, len(t.Tags))
	copy(tags, t.Tags)
	sort.Strings(tags)
	h := sha256.Sum256([]byte(t.Description + "\x00" + strings.Join(tags, ",")))
	return hex.EncodeToString(h[:])
}

// embeddingText is the descriptive text a technique is embedded from
func embeddingText(t *Technique) string {
	parts := []string{t.Name, t.Description}
	if len(t.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(t.Tags, ", "))
	}
	if len(t.UseCases) > 0 {
		parts = append(parts, "Use cases: "+strings.Join(t.UseCases, "; "))
	}
	return strings.Join(parts, "\n")
}

// EmbedAll computes description embeddings for every technique, consulting
// the cache first when one is provided
func EmbedAll(ctx context.Context, techniques []Technique, embedder embeddings.Embedder, cache EmbeddingCache) (map[string][]float32, error) {
	vectors := make(map[string][]float32, len(techniques))
	for i := range techniques {
		t := &techniques[i]
		hash := DescriptionHash(t)
		if cache != nil {
			if vec, ok := cache.GetEmbedding(ctx, t.ID, hash); ok {
				vectors[t.ID] = vec
				continue
			}
		}
		vec, err := embedder.Embed(ctx, embeddingText(t))
		if err != nil {
			return nil, fmt.Errorf("failed to embed technique %q: %w", t.ID, err)
		}
		vectors[t.ID] = vec
		if cache != nil {
			if err := cache.PutEmbedding(ctx, t.ID, hash, vec); err != nil {
				// Warm-start persistence is best effort
				continue
			}
		}
	}
	return vectors, nil
}

// Load builds a ready Store from a catalog file: parse, validate, embed
func Load(ctx context.Context, path string, embedder embeddings.Embedder, cache EmbeddingCache) (*Store, error) {
	techniques, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	vectors, err := EmbedAll(ctx, techniques, embedder, cache)
	if err != nil {
		return nil, err
	}
	return NewStore(techniques, vectors), nil
}
