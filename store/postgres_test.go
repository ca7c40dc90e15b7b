package store_test

import (
	"testing"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/testutil"
)

func TestPostgres_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.Store {
		return store.NewPostgres(testutil.SetupTestDB(t))
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if err := store.Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
