package appstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mina-uptime/coordinator/internal/resultdb"
)

type fakeStore struct {
	existing []resultdb.ApplicationStatusRow
	updated  []resultdb.ApplicationStatusRow
}

func (f *fakeStore) GetApplicationStatus(ctx context.Context) ([]resultdb.ApplicationStatusRow, error) {
	return f.existing, nil
}

func (f *fakeStore) UpdateApplicationStatus(ctx context.Context, rows []resultdb.ApplicationStatusRow, now time.Time) error {
	f.updated = rows
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestReconcile_MarksMissingProducerInactive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("block_producer_key,application_name,active\nB123,validator-a,true\n"))
	}))
	defer server.Close()

	store := &fakeStore{
		existing: []resultdb.ApplicationStatusRow{
			{BlockProducerKey: "B123", ApplicationName: "validator-a", Active: true},
			{BlockProducerKey: "B999", ApplicationName: "validator-old", Active: true},
		},
	}

	u := New(store, fixedClock{t: time.Unix(0, 0)}, zerolog.Nop())
	require.NoError(t, u.Reconcile(context.Background(), server.URL))

	byKey := make(map[string]resultdb.ApplicationStatusRow)
	for _, row := range store.updated {
		byKey[row.BlockProducerKey] = row
	}
	assert.True(t, byKey["B123"].Active)
	assert.False(t, byKey["B999"].Active)
}

func TestReconcile_FetchFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := &fakeStore{}
	u := New(store, fixedClock{t: time.Unix(0, 0)}, zerolog.Nop())
	assert.Error(t, u.Reconcile(context.Background(), server.URL))
}
