package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/deepsearch/internal/profile"
	"github.com/hrygo/deepsearch/store"
)

// newTestDriver connects to the database named by DEEPSEARCH_TEST_PG_DSN and
// applies a fresh schema. Tests are skipped when the variable is unset so the
// suite stays runnable without a PostgreSQL instance.
func newTestDriver(t *testing.T) store.Driver {
	t.Helper()

	dsn := os.Getenv("DEEPSEARCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DEEPSEARCH_TEST_PG_DSN not set")
	}

	p := &profile.Profile{Mode: "dev", Driver: "postgres", DSN: dsn}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	ctx := context.Background()
	_, err = driver.GetDB().ExecContext(ctx, "DROP TABLE IF EXISTS stream, message, chat, system_setting")
	require.NoError(t, err)
	require.NoError(t, driver.ApplyLatestSchema(ctx))
	return driver
}

func TestListStreamsSameSecondKeepsInsertionOrder(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	_, err := driver.UpsertChat(ctx, &store.UpsertChat{ChatID: "c1", UserID: "u1", Title: "t"})
	require.NoError(t, err)

	// Two streams stamped with the same second, inserted in reverse
	// lexicographic order. Ids are random in production and must not
	// influence the ordering; the seq sequence does.
	for _, id := range []string{"zz-first", "aa-second"} {
		_, err := driver.CreateStream(ctx, &store.Stream{ID: id, ChatID: "c1", CreatedTs: 1700000000})
		require.NoError(t, err)
	}

	streams, err := driver.ListStreams(ctx, &store.FindStream{ChatID: "c1"})
	require.NoError(t, err)
	require.Len(t, streams, 2)
	require.Equal(t, "zz-first", streams[0].ID)
	require.Equal(t, "aa-second", streams[1].ID)
}
