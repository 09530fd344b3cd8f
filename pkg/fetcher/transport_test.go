package fetcher_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/illmade-knight/go-diwane/pkg/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Do(t *testing.T) {
	ctx := context.Background()

	var gotMethod, gotPath, gotQuery, gotContentType, gotToken string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Client")
		gotBody, _ = io.ReadAll(r.Body)

		switch r.URL.Path {
		case "/api/missing":
			http.Error(w, "not here", http.StatusNotFound)
		case "/api/empty":
			w.WriteHeader(http.StatusOK)
		case "/api/garbage":
			_, _ = w.Write([]byte("<html>"))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","nom":"Touba"}`))
		}
	}))
	t.Cleanup(srv.Close)

	tr, err := fetcher.NewHTTPTransport(srv.URL+"/api", fetcher.WithHTTPClient(srv.Client()), fetcher.WithHeader("X-Client", "diwane"))
	require.NoError(t, err)

	t.Run("GET with query", func(t *testing.T) {
		body, err := tr.Do(ctx, fetcher.Get("/diwanes", url.Values{"ville": {"Touba"}}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"1","nom":"Touba"}`, string(body))
		assert.Equal(t, http.MethodGet, gotMethod)
		assert.Equal(t, "/api/diwanes", gotPath)
		assert.Equal(t, "ville=Touba", gotQuery)
		assert.Equal(t, "diwane", gotToken)
		assert.Empty(t, gotContentType)
	})

	t.Run("POST sends a JSON body", func(t *testing.T) {
		_, err := tr.Do(ctx, fetcher.Request{Method: http.MethodPost, Path: "/diwanes", Body: map[string]string{"nom": "Touba"}})
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "application/json", gotContentType)
		var sent map[string]string
		require.NoError(t, json.Unmarshal(gotBody, &sent))
		assert.Equal(t, "Touba", sent["nom"])
	})

	t.Run("non-2xx is a StatusError", func(t *testing.T) {
		_, err := tr.Do(ctx, fetcher.Get("/missing", nil))
		require.Error(t, err)
		assert.True(t, fetcher.IsNotFound(err))
		assert.Contains(t, err.Error(), "HTTP 404")
	})

	t.Run("empty 2xx body is null", func(t *testing.T) {
		body, err := tr.Do(ctx, fetcher.Request{Method: http.MethodDelete, Path: "/empty"})
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage("null"), body)
	})

	t.Run("invalid JSON is rejected", func(t *testing.T) {
		_, err := tr.Do(ctx, fetcher.Get("/garbage", nil))
		require.Error(t, err)
	})
}

func TestNewHTTPTransport_RejectsRelativeURL(t *testing.T) {
	_, err := fetcher.NewHTTPTransport("localhost:3000")
	require.Error(t, err)
	_, err = fetcher.NewHTTPTransport("/api")
	require.Error(t, err)
}
