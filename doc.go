// Package storagecore is an embedded, single-process document store
// organized as a database of named collections.
//
// Each collection is an append-only log of BSON-encoded records in a
// dedicated binary file; inserts, updates, and deletes all append frames
// (deletes as tombstones), and lookups are served from an in-memory
// primary-key index rebuilt by replaying the log on open. Every frame
// carries a CRC so corruption is detected on read, and a torn or tampered
// tail never hides the valid prefix of a log.
//
// A [Database] is the catalog: it loads a small JSON manifest, registers
// collections bound to a key and model type, and hands out typed
// [Repository] handles. Repositories offer CRUD, declarative filtering
// via [SearchCriteria], and cosine-similarity search over models that
// carry an embedding.
//
//	db, err := storagecore.Open(ctx, "mystore", "data/mystoredb", storagecore.Options{})
//	if err != nil { ... }
//	defer db.Close()
//
//	err = storagecore.Register[string, User](ctx, db, "user")
//	repo, err := storagecore.Collection[string, User](db, "user")
//
//	err = repo.Insert(ctx, User{ID: "1", Name: "ada"})
//	u, ok, err := repo.FindByID(ctx, "1")
//
// One repository is an exclusive resource: its operations serialize on an
// internal mutex. Distinct collections can be used concurrently.
package storagecore
