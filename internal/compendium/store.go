package compendium

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// feedbackEMAWeight controls how quickly performance/success scores chase
// fresh feedback. Matches the update rule used by the original engine.
const feedbackEMAWeight = 0.2

// snapshot is one immutable generation of the catalog. Reload replaces the
// whole snapshot; readers never observe a partially-updated catalog.
type snapshot struct {
	byID       map[string]Technique
	orderedIDs []string
	embeddings map[string][]float32
}

// feedbackState accumulates feedback-driven mutations outside the immutable
// snapshot so that catalog reloads do not clobber learned scores.
type feedbackState struct {
	mu               sync.Mutex
	performanceScore float64
	successRate      float64
	usageFrequency   int64
	seeded           bool
}

// Store owns the technique catalog. It is safe for concurrent use: reads go
// through an atomically-swapped snapshot, and feedback updates serialize per
// technique so concurrent updates never lose increments.
type Store struct {
	snap atomic.Pointer[snapshot]

	mu       sync.Mutex // guards feedback map shape
	feedback map[string]*feedbackState
}

// NewStore creates a store over the given techniques and their embeddings.
// Embeddings are keyed by technique id and may be nil for techniques that
// have not been embedded yet (the matcher skips those).
func NewStore(techniques []Technique, embeddings map[string][]float32) *Store {
	s := &Store{feedback: make(map[string]*feedbackState)}
	s.swap(techniques, embeddings)
	return s
}

func buildSnapshot(techniques []Technique, embeddings map[string][]float32) *snapshot {
	snap := &snapshot{
		byID:       make(map[string]Technique, len(techniques)),
		orderedIDs: make([]string, 0, len(techniques)),
		embeddings: make(map[string][]float32, len(embeddings)),
	}
	for _, t := range techniques {
		snap.byID[t.ID] = t
		snap.orderedIDs = append(snap.orderedIDs, t.ID)
	}
	sort.Strings(snap.orderedIDs)
	for id, vec := range embeddings {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		snap.embeddings[id] = cp
	}
	return snap
}

func (s *Store) swap(techniques []Technique, embeddings map[string][]float32) {
	s.snap.Store(buildSnapshot(techniques, embeddings))
}

// Reload atomically replaces the catalog. In-flight readers keep the old
// snapshot; learned feedback state survives the swap.
func (s *Store) Reload(techniques []Technique, embeddings map[string][]float32) {
	s.swap(techniques, embeddings)
}

// Len returns the number of techniques in the current snapshot
func (s *Store) Len() int {
	return len(s.snap.Load().byID)
}

// IDs returns the technique ids in the current snapshot, ascending
func (s *Store) IDs() []string {
	snap := s.snap.Load()
	out := make([]string, len(snap.orderedIDs))
	copy(out, snap.orderedIDs)
	return out
}

// Get returns a copy of the technique with the given id, with feedback
// overlays applied
func (s *Store) Get(id string) (Technique, bool) {
	snap := s.snap.Load()
	t, ok := snap.byID[id]
	if !ok {
		return Technique{}, false
	}
	s.overlayFeedback(&t)
	return t, true
}

// List returns copies of every technique in id order
func (s *Store) List() []Technique {
	snap := s.snap.Load()
	out := make([]Technique, 0, len(snap.orderedIDs))
	for _, id := range snap.orderedIDs {
		t := snap.byID[id]
		s.overlayFeedback(&t)
		out = append(out, t)
	}
	return out
}

// Embedding returns the description embedding for a technique, or false if
// none has been computed. The returned slice must not be mutated.
func (s *Store) Embedding(id string) ([]float32, bool) {
	vec, ok := s.snap.Load().embeddings[id]
	return vec, ok
}

// UpdateFeedback folds one execution's feedback into the technique's learned
// scores. Performance and success chase the feedback with an exponential
// moving average; usage frequency increments monotonically.
func (s *Store) UpdateFeedback(id string, delta FeedbackDelta) error {
	snap := s.snap.Load()
	base, ok := snap.byID[id]
	if !ok {
		return fmt.Errorf("unknown technique %q", id)
	}
	if delta.Rating < 0 || delta.Rating > 1 {
		return fmt.Errorf("feedback rating %g out of range [0,1]", delta.Rating)
	}

	fs := s.feedbackFor(id)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.seeded {
		fs.performanceScore = base.PerformanceScore
		fs.successRate = base.SuccessRate
		fs.usageFrequency = base.UsageFrequency
		fs.seeded = true
	}
	fs.performanceScore = (1-feedbackEMAWeight)*fs.performanceScore + feedbackEMAWeight*delta.Rating
	success := 0.0
	if delta.Succeeded {
		success = 1.0
	}
	fs.successRate = (1-feedbackEMAWeight)*fs.successRate + feedbackEMAWeight*success
	fs.usageFrequency++
	return nil
}

func (s *Store) feedbackFor(id string) *feedbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.feedback[id]
	if !ok {
		fs = &feedbackState{}
		s.feedback[id] = fs
	}
	return fs
}

func (s *Store) overlayFeedback(t *Technique) {
	s.mu.Lock()
	fs, ok := s.feedback[t.ID]
	s.mu.Unlock()
	if !ok {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.seeded {
		return
	}
	t.PerformanceScore = fs.performanceScore
	t.SuccessRate = fs.successRate
	t.UsageFrequency = fs.usageFrequency
}
