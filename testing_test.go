package storagecore_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	storagecore "github.com/rkapps/storage-core"
)

// User is the minimal test model: a key and one mutable field.
type User struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

func (u User) Key() string        { return u.ID }
func (u User) Collection() string { return "user" }

// Account exercises a second collection and the type-mismatch path.
type Account struct {
	ID     string `bson:"_id"`
	UserID string `bson:"user_id"`
}

func (a Account) Key() string        { return a.ID }
func (a Account) Collection() string { return "account" }

// Product implements Searchable for criteria tests. Price is persisted as
// a float and surfaced as a decimal sort value.
type Product struct {
	ID       string  `bson:"_id"`
	Name     string  `bson:"name"`
	Category string  `bson:"category"`
	Price    float64 `bson:"price"`
	Stock    int64   `bson:"stock"`
}

func (p Product) Key() string        { return p.ID }
func (p Product) Collection() string { return "product" }

func (p Product) FieldValue(field string) (storagecore.SortValue, bool) {
	switch field {
	case "name":
		return storagecore.SortStr(p.Name), true
	case "category":
		return storagecore.SortStr(p.Category), true
	case "price":
		return storagecore.SortDec(decimal.NewFromFloat(p.Price)), true
	case "stock":
		return storagecore.SortI64(p.Stock), true
	default:
		return storagecore.SortValue{}, false
	}
}

func (p Product) MatchesFilter(c *storagecore.SearchCriteria) bool {
	return c.Matches(p)
}

// Note exercises SemanticSearch: a Searchable model with an embedding.
type Note struct {
	ID        string    `bson:"_id"`
	Topic     string    `bson:"topic"`
	Embedding []float32 `bson:"embedding,omitempty"`
}

func (n Note) Key() string        { return n.ID }
func (n Note) Collection() string { return "note" }

func (n Note) Vector() []float32 { return n.Embedding }

func (n Note) FieldValue(field string) (storagecore.SortValue, bool) {
	if field == "topic" {
		return storagecore.SortStr(n.Topic), true
	}

	return storagecore.SortValue{}, false
}

func (n Note) MatchesFilter(c *storagecore.SearchCriteria) bool {
	return c.Matches(n)
}

// openTestDB opens a database in a fresh temp root and closes it with the
// test.
func openTestDB(t *testing.T, name string) *storagecore.Database {
	t.Helper()

	db, err := storagecore.Open(context.Background(), name, t.TempDir(), storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// registerUsers registers the user collection on db.
func registerUsers(t *testing.T, db *storagecore.Database) *storagecore.Repository[string, User] {
	t.Helper()

	err := storagecore.Register[string, User](context.Background(), db, "user")
	if err != nil {
		t.Fatalf("Register(user) failed: %v", err)
	}

	repo, err := storagecore.Collection[string, User](db, "user")
	if err != nil {
		t.Fatalf("Collection(user) failed: %v", err)
	}

	return repo
}
