package storagecore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
	"go.uber.org/zap"

	"github.com/rkapps/storage-core/pkg/fs"
)

// CollectionMetadata is the per-collection entry of the manifest.
type CollectionMetadata struct {
	Name string `json:"name"`
}

// Manifest key names. Everything else in the manifest document is
// preserved verbatim across load/save.
const (
	manifestKeyName        = "name"
	manifestKeyFilePath    = "file_path"
	manifestKeyCollections = "collections"
)

// Options configures a [Database].
type Options struct {
	// Logger receives structured warnings (skipped records, replay stops).
	// Default: zap.NewNop().
	Logger *zap.Logger

	// FS overrides the filesystem, for fault injection in tests.
	// Default: the real filesystem. The lock file and manifest saves
	// always use the real filesystem.
	FS fs.FS
}

// Database is a catalog of named collections rooted at one directory.
//
// The manifest <root>/<name>.json records the registered collections and
// is rewritten (atomically) only when that set changes. Each registered
// collection is held as a typed [Repository] behind a runtime type check;
// recover one with [Collection].
//
// Registration and lookup are short critical sections under the database
// mutex. Repository operations never hold it.
type Database struct {
	mu sync.Mutex

	name     string
	rootPath string
	fs       fs.FS
	log      *zap.Logger

	collections map[string]CollectionMetadata
	extra       map[string]json.RawMessage // unknown manifest fields, kept as-is
	repos       map[string]any             // collection name -> *Repository[K, M]

	flock  *flock.Flock
	closed bool
}

// repositoryLifecycle is the untyped capability every stored repository
// exposes to the catalog.
type repositoryLifecycle interface {
	Flush() error
	close() error
}

// Open opens the database called name rooted at rootPath, creating the
// root directory when needed and loading the manifest when present.
// Collection logs are not opened until [Register].
//
// Open takes an exclusive advisory lock on <root>/<name>.lock; a second
// process opening the same database fails with [ErrDatabaseLocked]. The
// lock is released by [Database.Close].
func Open(ctx context.Context, name, rootPath string, opts Options) (*Database, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	err = fsys.MkdirAll(rootPath, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create root %s: %w", rootPath, err)
	}

	lock := flock.New(filepath.Join(rootPath, name+".lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock database %s: %w", name, err)
	}

	if !locked {
		return nil, fmt.Errorf("database %s at %s: %w", name, rootPath, ErrDatabaseLocked)
	}

	db := &Database{
		name:        name,
		rootPath:    rootPath,
		fs:          fsys,
		log:         logger,
		collections: make(map[string]CollectionMetadata),
		extra:       make(map[string]json.RawMessage),
		repos:       make(map[string]any),
		flock:       lock,
	}

	err = db.loadManifest()
	if err != nil {
		_ = lock.Unlock()

		return nil, err
	}

	return db, nil
}

// manifestPath returns <root>/<name>.json.
func (db *Database) manifestPath() string {
	return filepath.Join(db.rootPath, db.name+".json")
}

// loadManifest reads the manifest if it exists. The document may carry
// comments and trailing commas (it is standardized before parsing), and
// fields this package does not know are preserved for the next save.
func (db *Database) loadManifest() error {
	path := db.manifestPath()

	exists, err := db.fs.Exists(path)
	if err != nil {
		return fmt.Errorf("stat manifest %s: %w", path, err)
	}

	if !exists {
		return nil
	}

	data, err := db.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("manifest %s: %w: %w", path, ErrManifestParse, err)
	}

	var doc map[string]json.RawMessage

	err = json.Unmarshal(standardized, &doc)
	if err != nil {
		return fmt.Errorf("manifest %s: %w: %w", path, ErrManifestParse, err)
	}

	if raw, ok := doc[manifestKeyCollections]; ok {
		err = json.Unmarshal(raw, &db.collections)
		if err != nil {
			return fmt.Errorf("manifest %s collections: %w: %w", path, ErrManifestParse, err)
		}
	}

	delete(doc, manifestKeyName)
	delete(doc, manifestKeyFilePath)
	delete(doc, manifestKeyCollections)
	db.extra = doc

	return nil
}

// saveManifest writes the manifest atomically (temp file + rename).
// Preserved unknown fields are written back; known fields win on conflict.
func (db *Database) saveManifest() error {
	doc := make(map[string]json.RawMessage, len(db.extra)+3)
	for k, v := range db.extra {
		doc[k] = v
	}

	nameJSON, err := json.Marshal(db.name)
	if err != nil {
		return fmt.Errorf("encode manifest name: %w", err)
	}

	pathJSON, err := json.Marshal(db.rootPath)
	if err != nil {
		return fmt.Errorf("encode manifest path: %w", err)
	}

	collectionsJSON, err := json.Marshal(db.collections)
	if err != nil {
		return fmt.Errorf("encode manifest collections: %w", err)
	}

	doc[manifestKeyName] = nameJSON
	doc[manifestKeyFilePath] = pathJSON
	doc[manifestKeyCollections] = collectionsJSON

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	err = atomic.WriteFile(db.manifestPath(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write manifest %s: %w", db.manifestPath(), err)
	}

	return nil
}

// Register registers the collection called name, bound to key type K and
// model type M, and opens (and replays) its log.
//
// Registration is idempotent: a name already in the manifest is not
// re-persisted, and re-registering replaces the in-memory repository while
// preserving all on-disk data. The manifest is only written when the
// collection set actually changes.
func Register[K comparable, M Model[K]](ctx context.Context, db *Database, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	dir := filepath.Join(db.rootPath, name)

	err := db.fs.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("create collection dir %s: %w", dir, err)
	}

	_, known := db.collections[name]
	if !known {
		db.collections[name] = CollectionMetadata{Name: name}

		err = db.saveManifest()
		if err != nil {
			delete(db.collections, name)

			return err
		}
	}

	// Close the repository being replaced so the old handle does not leak.
	if prev, ok := db.repos[name]; ok {
		_ = prev.(repositoryLifecycle).close()
	}

	coll, err := openCollectionLog[K, M](ctx, db.fs, name, dir, db.log)
	if err != nil {
		return err
	}

	db.repos[name] = &Repository[K, M]{coll: coll}

	return nil
}

// Collection returns the repository registered under name.
//
// Fails with [ErrCollectionMissing] when name was never registered on this
// database instance, and with [ErrRepositoryTypeMismatch] when it was
// registered with a different key/model pair.
func Collection[K comparable, M Model[K]](db *Database, name string) (*Repository[K, M], error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}

	entry, ok := db.repos[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrCollectionMissing)
	}

	repo, ok := entry.(*Repository[K, M])
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, ErrRepositoryTypeMismatch)
	}

	return repo, nil
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// Root returns the database root directory.
func (db *Database) Root() string {
	return db.rootPath
}

// CollectionNames returns the names in the manifest, sorted.
func (db *Database) CollectionNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Flush fsyncs every open collection log.
func (db *Database) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	for name, entry := range db.repos {
		err := entry.(repositoryLifecycle).Flush()
		if err != nil {
			return fmt.Errorf("flush collection %q: %w", name, err)
		}
	}

	return nil
}

// Close closes every open collection log and releases the database lock.
// The database is unusable afterward. Close is idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	db.closed = true

	var firstErr error

	for name, entry := range db.repos {
		err := entry.(repositoryLifecycle).close()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close collection %q: %w", name, err)
		}
	}

	db.repos = nil

	err := db.flock.Unlock()
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unlock database: %w", err)
	}

	return firstErr
}
