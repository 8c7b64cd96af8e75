package store_test

import (
	"os"
	"testing"

	"github.com/dshills/protocol-foundry/graph/store"
)

// TestMySQLStore_Contract runs against a real server.
//
// export TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/foundry_test"
func TestMySQLStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	st, err := store.NewMySQLStore[contractState](dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	runStoreContract(t, st)
}

func TestMySQLStore_BadDSN(t *testing.T) {
	if _, err := store.NewMySQLStore[contractState]("not a dsn"); err == nil {
		t.Error("expected error for malformed DSN")
	}
}
