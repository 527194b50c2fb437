package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost_SendsJSONBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(server.URL)
	require.NoError(t, n.Post(context.Background(), "dispatch took too long"))
	assert.Contains(t, gotBody, "dispatch took too long")
}

func TestPost_NonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(server.URL)
	assert.Error(t, n.Post(context.Background(), "hello"))
}

func TestPost_EmptyURLIsError(t *testing.T) {
	n := New("")
	assert.Error(t, n.Post(context.Background(), "hello"))
}
