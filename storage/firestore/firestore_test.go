package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papermatch/papermatch-functions/pkg/ledger"
)

const testProjectID = "test-project"

// setupFirestoreClient connects to the emulator named by FIRESTORE_EMULATOR_HOST
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// testCollection returns a unique collection name for each test run
func testCollection(testName string) string {
	return fmt.Sprintf("test_credits_%s_%d", testName, time.Now().UnixNano())
}

func newEntry(id, userID string, credits int64, creditor ledger.Creditor, ref string, at time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:         id,
		UserID:     userID,
		Credits:    credits,
		Creditor:   creditor,
		CreditorID: ref,
		CreatedAt:  at,
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestDocumentID(t *testing.T) {
	at := time.Now()
	assert.Equal(t, "stripe:cs_1", documentID(newEntry("e1", "u1", 1, ledger.CreditorStripe, "cs_1", at)))
	assert.Equal(t, "revenuecat:a%2Fb", documentID(newEntry("e1", "u1", 1, ledger.CreditorRevenueCat, "a/b", at)))
	assert.Equal(t, "e1", documentID(newEntry("e1", "u1", 1, ledger.CreditorAdmin, "", at)))
}

func TestGetInt64(t *testing.T) {
	data := map[string]interface{}{"a": int64(3), "b": 4, "c": float64(5), "d": "x"}
	assert.Equal(t, int64(3), getInt64(data, "a"))
	assert.Equal(t, int64(4), getInt64(data, "b"))
	assert.Equal(t, int64(5), getInt64(data, "c"))
	assert.Equal(t, int64(0), getInt64(data, "d"))
	assert.Equal(t, int64(0), getInt64(data, "missing"))
}

func TestStorage_InsertIfAbsent(t *testing.T) {
	client := setupFirestoreClient(t)
	storage, err := New(client, Config{CreditsCollection: testCollection("insert")})
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := storage.InsertIfAbsent(ctx, newEntry("e1", "u1", 6, ledger.CreditorStripe, "cs_1", base))
	require.NoError(t, err)
	assert.Equal(t, ledger.WriteInserted, res)

	res, err = storage.InsertIfAbsent(ctx, newEntry("e2", "u1", 6, ledger.CreditorStripe, "cs_1", base))
	require.NoError(t, err)
	assert.Equal(t, ledger.WriteDuplicate, res)

	_, err = storage.InsertIfAbsent(ctx, newEntry("e3", "u1", -1, ledger.CreditorMatch, "", base.Add(time.Minute)))
	require.NoError(t, err)

	balance, err := storage.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	entries, err := storage.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, "cs_1", entries[0].CreditorID)
	assert.Equal(t, "e3", entries[1].ID)
	assert.Empty(t, entries[1].CreditorID)
}

func TestStorage_ConcurrentRedelivery(t *testing.T) {
	client := setupFirestoreClient(t)
	storage, err := New(client, Config{CreditsCollection: testCollection("race")})
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := storage.InsertIfAbsent(ctx,
				newEntry(fmt.Sprintf("e%d", i), "u1", 6, ledger.CreditorRevenueCat, "tx_race", time.Now()))
			if err == nil && res == ledger.WriteInserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	balance, err := storage.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)
}
