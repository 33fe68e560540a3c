package storagecore

import (
	"context"
	"sync"

	"github.com/rkapps/storage-core/vector"
)

// Repository is the typed access surface of one collection.
//
// A repository is an exclusive resource: every operation, read or write,
// holds its mutex for the duration of the call, so calls on one repository
// are linearizable in acquisition order. Distinct repositories never share
// state and may be driven in parallel. The offset map is only mutated
// after a successful append, inside the critical section, so cancellation
// can never leave it inconsistent with the log.
type Repository[K comparable, M Model[K]] struct {
	mu   sync.Mutex
	coll *collectionLog[K, M]
}

// Name returns the collection name.
func (r *Repository[K, M]) Name() string {
	return r.coll.name
}

// Insert persists model by appending an ACTIVE frame.
func (r *Repository[K, M]) Insert(ctx context.Context, model M) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return err
	}

	return r.coll.insert(model)
}

// Update persists a new version of model. A key with no prior version is
// silently inserted; the log is append-only and has no not-found case.
func (r *Repository[K, M]) Update(ctx context.Context, model M) error {
	return r.Insert(ctx, model)
}

// Delete appends a tombstone for model and drops its key from the live set.
func (r *Repository[K, M]) Delete(ctx context.Context, model M) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return err
	}

	return r.coll.delete(model)
}

// FindByID returns the live model for key, with ok reporting liveness.
func (r *Repository[K, M]) FindByID(ctx context.Context, key K) (M, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero M

	err := ctx.Err()
	if err != nil {
		return zero, false, err
	}

	return r.coll.findByID(key)
}

// FindAll returns every live model in unspecified order.
func (r *Repository[K, M]) FindAll(ctx context.Context) ([]M, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	return r.coll.findAll(ctx)
}

// Find materializes the live set, applies criteria's conjunctive
// conditions via the model's [Searchable.MatchesFilter], sorts per the
// sort fields, and truncates to the limit. A nil criteria behaves like
// [Repository.FindAll].
func (r *Repository[K, M]) Find(ctx context.Context, criteria *SearchCriteria) ([]M, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	if criteria == nil {
		return all, nil
	}

	matched := all[:0]

	for _, m := range all {
		s, ok := any(m).(Searchable)
		if ok && !s.MatchesFilter(criteria) {
			continue
		}

		matched = append(matched, m)
	}

	applySort(matched, criteria.SortFields)

	if criteria.Limit != nil && *criteria.Limit < len(matched) {
		matched = matched[:*criteria.Limit]
	}

	return matched, nil
}

// ScoredModel pairs a search hit with its similarity score.
type ScoredModel[M any] struct {
	Model M
	Score float32
}

// SemanticSearch ranks the live models that carry an embedding against
// queryVector by cosine similarity and returns the topK best, descending.
// A non-nil criteria filters candidates before ranking. Models that do not
// implement [VectorEmbedding], or whose embedding is empty, are not
// candidates.
func (r *Repository[K, M]) SemanticSearch(ctx context.Context, queryVector []float32, topK int, criteria *SearchCriteria) ([]ScoredModel[M], error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]vector.Candidate[M], 0, len(all))

	for _, m := range all {
		emb, ok := any(m).(VectorEmbedding)
		if !ok || len(emb.Vector()) == 0 {
			continue
		}

		if criteria != nil {
			s, searchable := any(m).(Searchable)
			if searchable && !s.MatchesFilter(criteria) {
				continue
			}
		}

		candidates = append(candidates, vector.Candidate[M]{Key: m, Vector: emb.Vector()})
	}

	ranked := vector.Search(queryVector, candidates, topK)

	scored := make([]ScoredModel[M], 0, len(ranked))
	for _, hit := range ranked {
		scored = append(scored, ScoredModel[M]{Model: hit.Key, Score: hit.Score})
	}

	return scored, nil
}

// Flush fsyncs the collection log. Appends are otherwise left to the
// operating system; without a flush a crash may lose the log tail, and
// replay recovers the longest valid prefix.
func (r *Repository[K, M]) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.coll.flush()
}

// close releases the underlying log file. Called by [Database.Close].
func (r *Repository[K, M]) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.coll.close()
}
