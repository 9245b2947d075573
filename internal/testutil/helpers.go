// Package testutil holds helpers for integration tests that need real
// infrastructure. Tests skip cleanly when the backing service is absent, so
// the unit suite stays green on a bare machine.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
)

// PostgresDB opens the database named by AMM_TEST_POSTGRES_DSN, skipping the
// test when the variable is unset or the server is unreachable.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("AMM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AMM_TEST_POSTGRES_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Skipf("open postgres: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("postgres unreachable: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// NATSConn connects to the server named by AMM_TEST_NATS_URL, skipping the
// test when the variable is unset or the server is unreachable.
func NATSConn(t *testing.T) *nats.Conn {
	t.Helper()

	url := os.Getenv("AMM_TEST_NATS_URL")
	if url == "" {
		t.Skip("AMM_TEST_NATS_URL not set")
	}

	nc, err := nats.Connect(url, nats.Timeout(3*time.Second))
	if err != nil {
		t.Skipf("nats unreachable: %v", err)
	}

	t.Cleanup(nc.Close)
	return nc
}
