// Package searchtest provides an in-process fake of the search engine's
// REST API for tests.
package searchtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/dreamware/shardsync/internal/cluster"
)

// Engine is a fake search engine. Phrase matching is plain substring
// containment, which is enough for record data.
type Engine struct {
	*httptest.Server

	mu       sync.Mutex
	docs     map[string]map[string]cluster.Document
	failures int
	down     bool
	requests int
}

// NewEngine starts a fake engine. Close it when done.
func NewEngine() *Engine {
	e := &Engine{docs: make(map[string]map[string]cluster.Document)}
	r := mux.NewRouter()
	r.HandleFunc("/", e.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/{index}/_doc/{key}", e.handleIndex).Methods(http.MethodPut)
	r.HandleFunc("/{index}/_search", e.handleSearch).Methods(http.MethodPost)
	e.Server = httptest.NewServer(r)
	return e
}

// FailNext makes the next n requests answer 503.
func (e *Engine) FailNext(n int) {
	e.mu.Lock()
	e.failures = n
	e.mu.Unlock()
}

// SetDown makes every request answer 503 until called with false.
func (e *Engine) SetDown(down bool) {
	e.mu.Lock()
	e.down = down
	e.mu.Unlock()
}

// Requests returns the number of requests received.
func (e *Engine) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// Docs returns the documents stored in index, keyed by engine id.
func (e *Engine) Docs(index string) map[string]cluster.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]cluster.Document, len(e.docs[index]))
	for k, v := range e.docs[index] {
		out[k] = v
	}
	return out
}

// admit counts the request and reports whether it should be served.
func (e *Engine) admit(w http.ResponseWriter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	if e.down || e.failures > 0 {
		if e.failures > 0 {
			e.failures--
		}
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (e *Engine) handlePing(w http.ResponseWriter, r *http.Request) {
	if !e.admit(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tagline": "You Know, for Search"})
}

func (e *Engine) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !e.admit(w) {
		return
	}
	vars := mux.Vars(r)
	var doc cluster.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	if e.docs[vars["index"]] == nil {
		e.docs[vars["index"]] = make(map[string]cluster.Document)
	}
	e.docs[vars["index"]][vars["key"]] = doc
	e.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"_id": vars["key"], "result": "created"})
}

type hit struct {
	ID     string           `json:"_id"`
	Source cluster.Document `json:"_source"`
}

func (e *Engine) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !e.admit(w) {
		return
	}
	var q struct {
		Query struct {
			MatchPhrase map[string]string `json:"match_phrase"`
		} `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	term := q.Query.MatchPhrase["data"]

	e.mu.Lock()
	hits := []hit{}
	for key, doc := range e.docs[mux.Vars(r)["index"]] {
		if strings.Contains(doc.Data, term) {
			hits = append(hits, hit{ID: key, Source: doc})
		}
	}
	e.mu.Unlock()
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })

	var resp struct {
		Hits struct {
			Hits []hit `json:"hits"`
		} `json:"hits"`
	}
	resp.Hits.Hits = hits
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
