package client_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeStore is a minimal JSON resource store: GET/POST on /<collection> and
// GET/PUT/DELETE on /<collection>/<id>. List reads accept field=value filters.
type fakeStore struct {
	mu    sync.Mutex
	data  map[string][]map[string]any
	calls map[string]int
}

func newFakeStore(t *testing.T, seed map[string][]map[string]any) (*fakeStore, *httptest.Server) {
	t.Helper()
	fs := &fakeStore{data: make(map[string][]map[string]any), calls: make(map[string]int)}
	for k, v := range seed {
		fs.data[k] = append([]map[string]any(nil), v...)
	}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeStore) callCount(methodPath string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls[methodPath]
}

func (fs *fakeStore) records(coll string) []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]any(nil), fs.data[coll]...)
}

func (fs *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.calls[r.Method+" "+r.URL.Path]++

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	coll := parts[0]
	w.Header().Set("Content-Type", "application/json")

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			out := []map[string]any{}
			for _, rec := range fs.data[coll] {
				if matches(rec, r) {
					out = append(out, rec)
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var rec map[string]any
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fs.data[coll] = append(fs.data[coll], rec)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(rec)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	id := parts[1]
	idx := -1
	for i, rec := range fs.data[coll] {
		if fmt.Sprint(rec["id"]) == id {
			idx = i
		}
	}
	if idx < 0 {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
		return
	}

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(fs.data[coll][idx])
	case http.MethodPut:
		var rec map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.data[coll][idx] = rec
		_ = json.NewEncoder(w).Encode(rec)
	case http.MethodDelete:
		fs.data[coll] = append(fs.data[coll][:idx:idx], fs.data[coll][idx+1:]...)
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func matches(rec map[string]any, r *http.Request) bool {
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 && fmt.Sprint(rec[k]) != vs[0] {
			return false
		}
	}
	return true
}
