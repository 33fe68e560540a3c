package storagecore

// Model is the contract every stored entity satisfies: a primary key that
// is unique within its collection and stable for the entity's lifetime,
// and a static collection name.
//
// Models are persisted as BSON documents, so they must round-trip through
// bson.Marshal/bson.Unmarshal losslessly (exported fields, bson tags as
// needed). The key field must be part of the document.
type Model[K comparable] interface {
	// Key returns the primary key.
	Key() K

	// Collection returns the collection name the model belongs to.
	Collection() string
}

// Searchable is the optional capability behind [Repository.Find]: field
// introspection for sorting and a filter hook for condition matching.
//
// A model that wants default conjunctive matching over its fields can
// implement MatchesFilter as:
//
//	func (m Thing) MatchesFilter(c *SearchCriteria) bool {
//	    return c.Matches(m)
//	}
type Searchable interface {
	// FieldValue returns the named field as a sortable value.
	// ok is false for unknown fields.
	FieldValue(field string) (value SortValue, ok bool)

	// MatchesFilter reports whether the model passes the criteria's
	// conditions.
	MatchesFilter(c *SearchCriteria) bool
}

// VectorEmbedding is the optional capability behind
// [Repository.SemanticSearch]. A model with no embedding returns nil.
type VectorEmbedding interface {
	// Vector returns the model's embedding.
	Vector() []float32
}
