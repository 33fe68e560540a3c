// Database catalog tests.
//
// Covers the manifest lifecycle (create, reload, unknown-field
// preservation, parse failure), registration idempotence, typed repository
// recovery, the advisory root lock, and the concurrent-collections
// scenario.

package storagecore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	storagecore "github.com/rkapps/storage-core"
)

func Test_Open_Creates_Root_And_Starts_With_Empty_Catalog(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "mystoredb")

	db, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	defer func() { _ = db.Close() }()

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}

	if len(db.CollectionNames()) != 0 {
		t.Fatalf("collections: got=%v want none", db.CollectionNames())
	}
}

func Test_Register_Persists_Manifest_And_Creates_Collection_Dir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	db, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	defer func() { _ = db.Close() }()

	err = storagecore.Register[string, User](context.Background(), db, "user")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "user"))
	if err != nil || !info.IsDir() {
		t.Fatalf("collection dir not created: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "mystore.json"))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}

	var manifest struct {
		Name        string                                    `json:"name"`
		FilePath    string                                    `json:"file_path"`
		Collections map[string]storagecore.CollectionMetadata `json:"collections"`
	}

	err = json.Unmarshal(data, &manifest)
	if err != nil {
		t.Fatalf("manifest unmarshal: %v", err)
	}

	require.Equal(t, "mystore", manifest.Name)
	require.Equal(t, root, manifest.FilePath)
	require.Equal(t, map[string]storagecore.CollectionMetadata{"user": {Name: "user"}}, manifest.Collections)
}

func Test_Register_Is_Idempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, "mystore")
	repo := registerUsers(t, db)

	err := repo.Insert(context.Background(), User{ID: "1", Name: "a"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	manifestPath := filepath.Join(db.Root(), "mystore.json")

	before, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	// Second registration must not rewrite the manifest or lose data.
	err = storagecore.Register[string, User](context.Background(), db, "user")
	if err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	after, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	require.Equal(t, string(before), string(after))

	repo, err = storagecore.Collection[string, User](db, "user")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}

	all, err := repo.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}

	if len(all) != 1 {
		t.Fatalf("live records after re-registration: got=%d want=1", len(all))
	}
}

func Test_Collection_Returns_ErrCollectionMissing_Without_Registration(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, "mystore")

	_, err := storagecore.Collection[string, User](db, "user")
	if !errors.Is(err, storagecore.ErrCollectionMissing) {
		t.Fatalf("error mismatch: got=%v want=%v", err, storagecore.ErrCollectionMissing)
	}
}

func Test_Collection_Returns_ErrRepositoryTypeMismatch_For_Wrong_Model(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, "mystore")
	registerUsers(t, db)

	_, err := storagecore.Collection[string, Account](db, "user")
	if !errors.Is(err, storagecore.ErrRepositoryTypeMismatch) {
		t.Fatalf("error mismatch: got=%v want=%v", err, storagecore.ErrRepositoryTypeMismatch)
	}
}

func Test_Open_Preserves_Unknown_Manifest_Fields_Across_Save(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	// Hand-written manifest with a comment and a field this package does
	// not know about.
	manifest := `{
  // maintained by ops tooling
  "name": "mystore",
  "file_path": "` + root + `",
  "collections": {},
  "owner": "data-platform",
}`

	err := os.WriteFile(filepath.Join(root, "mystore.json"), []byte(manifest), 0o644)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	db, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	defer func() { _ = db.Close() }()

	// Registration changes the collection set, forcing a manifest save.
	err = storagecore.Register[string, User](context.Background(), db, "user")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "mystore.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	var doc map[string]json.RawMessage

	err = json.Unmarshal(data, &doc)
	if err != nil {
		t.Fatalf("saved manifest is not valid JSON: %v", err)
	}

	owner, ok := doc["owner"]
	if !ok {
		t.Fatal("unknown field dropped on save")
	}

	require.JSONEq(t, `"data-platform"`, string(owner))
}

func Test_Open_Returns_ErrManifestParse_On_Malformed_Manifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	err := os.WriteFile(filepath.Join(root, "mystore.json"), []byte("{not json"), 0o644)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	_, err = storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if !errors.Is(err, storagecore.ErrManifestParse) {
		t.Fatalf("error mismatch: got=%v want=%v", err, storagecore.ErrManifestParse)
	}
}

func Test_Open_Returns_ErrDatabaseLocked_While_Another_Handle_Is_Open(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	db, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_, err = storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if !errors.Is(err, storagecore.ErrDatabaseLocked) {
		t.Fatalf("error mismatch: got=%v want=%v", err, storagecore.ErrDatabaseLocked)
	}

	err = db.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Lock released: reopening succeeds.
	db2, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("reopen after Close failed: %v", err)
	}

	_ = db2.Close()
}

func Test_Database_Rejects_Operations_After_Close(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	db, err := storagecore.Open(context.Background(), "mystore", root, storagecore.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	err = db.Close()
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close is idempotent.
	err = db.Close()
	if err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	err = storagecore.Register[string, User](context.Background(), db, "user")
	if !errors.Is(err, storagecore.ErrDatabaseClosed) {
		t.Fatalf("Register error mismatch: got=%v want=%v", err, storagecore.ErrDatabaseClosed)
	}

	_, err = storagecore.Collection[string, User](db, "user")
	if !errors.Is(err, storagecore.ErrDatabaseClosed) {
		t.Fatalf("Collection error mismatch: got=%v want=%v", err, storagecore.ErrDatabaseClosed)
	}
}

func Test_Distinct_Collections_Are_Operated_In_Parallel_Without_CrossContamination(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, "mystore")
	ctx := context.Background()

	err := storagecore.Register[string, User](ctx, db, "user")
	if err != nil {
		t.Fatalf("Register(user) failed: %v", err)
	}

	err = storagecore.Register[string, Account](ctx, db, "account")
	if err != nil {
		t.Fatalf("Register(account) failed: %v", err)
	}

	users, err := storagecore.Collection[string, User](db, "user")
	if err != nil {
		t.Fatalf("Collection(user) failed: %v", err)
	}

	accounts, err := storagecore.Collection[string, Account](db, "account")
	if err != nil {
		t.Fatalf("Collection(account) failed: %v", err)
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		for i := range 4 {
			err := users.Insert(gctx, User{ID: fmt.Sprintf("u%d", i), Name: uuid.NewString()})
			if err != nil {
				return err
			}
		}

		return nil
	})

	group.Go(func() error {
		for i := range 4 {
			err := accounts.Insert(gctx, Account{ID: fmt.Sprintf("a%d", i), UserID: uuid.NewString()})
			if err != nil {
				return err
			}
		}

		return nil
	})

	err = group.Wait()
	if err != nil {
		t.Fatalf("concurrent inserts failed: %v", err)
	}

	gotUsers, err := users.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll(user) failed: %v", err)
	}

	gotAccounts, err := accounts.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll(account) failed: %v", err)
	}

	if len(gotUsers) != 4 {
		t.Fatalf("user count: got=%d want=4", len(gotUsers))
	}

	if len(gotAccounts) != 4 {
		t.Fatalf("account count: got=%d want=4", len(gotAccounts))
	}

	for _, u := range gotUsers {
		if u.ID[0] != 'u' {
			t.Fatalf("foreign record in user collection: %+v", u)
		}
	}
}

func Test_CollectionNames_Reflects_Manifest_Sorted(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, "mystore")
	ctx := context.Background()

	err := storagecore.Register[string, User](ctx, db, "user")
	if err != nil {
		t.Fatalf("Register(user) failed: %v", err)
	}

	err = storagecore.Register[string, Account](ctx, db, "account")
	if err != nil {
		t.Fatalf("Register(account) failed: %v", err)
	}

	require.Equal(t, []string{"account", "user"}, db.CollectionNames())
}
