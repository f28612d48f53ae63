package compendium

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogJSON(t *testing.T, techniques []Technique) []byte {
	t.Helper()
	data, err := json.Marshal(techniques)
	require.NoError(t, err)
	return data
}

func TestParseValidCatalog(t *testing.T) {
	data := catalogJSON(t, []Technique{testTechnique("tech_a"), testTechnique("tech_b")})
	techniques, err := Parse(data)
	require.NoError(t, err)
	assert.Len(t, techniques, 2)
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	data := catalogJSON(t, []Technique{testTechnique("tech_a"), testTechnique("tech_a")})
	_, err := Parse(data)
	assert.ErrorContains(t, err, "duplicate technique id")
}

func TestParseRejectsDanglingRelations(t *testing.T) {
	conflicted := testTechnique("tech_a")
	conflicted.ConflictsWith = []string{"ghost"}
	_, err := Parse(catalogJSON(t, []Technique{conflicted}))
	assert.ErrorContains(t, err, "unknown technique")

	complementary := testTechnique("tech_b")
	complementary.ComplementaryTechniques = []string{"ghost"}
	_, err = Parse(catalogJSON(t, []Technique{complementary}))
	assert.ErrorContains(t, err, "unknown technique")
}

func TestParseRejectsInvalidTechnique(t *testing.T) {
	bad := testTechnique("tech_a")
	bad.Category = "astrology"
	_, err := Parse(catalogJSON(t, []Technique{bad}))
	assert.Error(t, err)

	empty := testTechnique("")
	_, err = Parse(catalogJSON(t, []Technique{empty}))
	assert.Error(t, err)
}

func TestParseRejectsEmptyCatalog(t *testing.T) {
	_, err := Parse([]byte("[]"))
	assert.ErrorContains(t, err, "no techniques")
}

func TestDescriptionHashTracksDescriptiveText(t *testing.T) {
	a := testTechnique("tech_a")
	b := testTechnique("tech_a")
	assert.Equal(t, DescriptionHash(&a), DescriptionHash(&b))

	b.Description = "changed"
	assert.NotEqual(t, DescriptionHash(&a), DescriptionHash(&b))

	// Tag order must not matter
	c := testTechnique("tech_a")
	c.Tags = []string{"x", "y"}
	d := testTechnique("tech_a")
	d.Tags = []string{"y", "x"}
	assert.Equal(t, DescriptionHash(&c), DescriptionHash(&d))

	// But tag content must
	e := testTechnique("tech_a")
	e.Tags = []string{"z"}
	assert.NotEqual(t, DescriptionHash(&c), DescriptionHash(&e))
}

// countingEmbedder records which texts were embedded
type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{1, 0, 0}, nil
}
func (c *countingEmbedder) Dimensions() int  { return 3 }
func (c *countingEmbedder) Provider() string { return "counting" }

// mapCache is an in-memory EmbeddingCache
type mapCache struct {
	entries map[string][]float32
}

func (m *mapCache) GetEmbedding(ctx context.Context, id, hash string) ([]float32, bool) {
	vec, ok := m.entries[id+"/"+hash]
	return vec, ok
}

func (m *mapCache) PutEmbedding(ctx context.Context, id, hash string, vec []float32) error {
	m.entries[id+"/"+hash] = vec
	return nil
}

func TestEmbedAllWarmStart(t *testing.T) {
	techniques := []Technique{testTechnique("tech_a"), testTechnique("tech_b")}
	embedder := &countingEmbedder{}
	cache := &mapCache{entries: make(map[string][]float32)}

	_, err := EmbedAll(context.Background(), techniques, embedder, cache)
	require.NoError(t, err)
	assert.Equal(t, 2, embedder.calls)

	// Second load finds everything in the cache
	_, err = EmbedAll(context.Background(), techniques, embedder, cache)
	require.NoError(t, err)
	assert.Equal(t, 2, embedder.calls, "cached techniques were re-embedded")

	// A description change invalidates only that entry
	techniques[0].Description = "different now"
	_, err = EmbedAll(context.Background(), techniques, embedder, cache)
	require.NoError(t, err)
	assert.Equal(t, 3, embedder.calls)
}

func TestDefaultCatalog(t *testing.T) {
	techniques, err := DefaultTechniques()
	require.NoError(t, err)
	require.NotEmpty(t, techniques)

	// Every category has at least one technique
	covered := make(map[Category]bool)
	byID := make(map[string]*Technique, len(techniques))
	for i := range techniques {
		covered[techniques[i].Category] = true
		byID[techniques[i].ID] = &techniques[i]
	}
	for _, category := range Categories {
		assert.True(t, covered[category], "category %s has no technique", category)
	}

	// The reasoning/conciseness conflict pair is declared on both sides
	cot := byID["chain_of_thought"]
	concise := byID["concise_answer"]
	require.NotNil(t, cot)
	require.NotNil(t, concise)
	assert.True(t, cot.ConflictsWithID("concise_answer"))
	assert.True(t, concise.ConflictsWithID("chain_of_thought"))
}
