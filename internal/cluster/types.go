package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Record is a row owned by exactly one shard. ID is assigned by the shard at
// insert time and is kept verbatim when the row is copied to a replica.
type Record struct {
	ID     int64  `json:"id"`
	Data   string `json:"data"`
	Source string `json:"source"`
}

// RecordView is a Record as served by a read, tagged with the replica it came from.
type RecordView struct {
	ID      int64  `json:"id"`
	Data    string `json:"data"`
	Source  string `json:"source"`
	Replica string `json:"replica"`
}

// View tags r with the replica that served it.
func (r Record) View(replica string) RecordView {
	return RecordView{ID: r.ID, Data: r.Data, Source: r.Source, Replica: replica}
}

// Document is the search engine's copy of a Record.
type Document struct {
	ID     int64  `json:"id"`
	Data   string `json:"data"`
	Source string `json:"source"`
}

// DocumentOf builds the search document for a committed record.
func DocumentOf(r Record) Document {
	return Document{ID: r.ID, Data: r.Data, Source: r.Source}
}

// Key is the engine-side document id. Shard sequences are independent, so
// the source is part of the key.
func (d Document) Key() string {
	return fmt.Sprintf("%s-%d", d.Source, d.ID)
}

// WriteResult is returned by a routed write.
type WriteResult struct {
	WrittenTo string `json:"written_to"`
	ID        int64  `json:"id"`
	Data      string `json:"data"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPError is returned by the JSON helpers when the peer answers with a
// non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.StatusCode, e.Body)
}

// DefaultTimeout bounds a JSONClient request when no timeout is given.
const DefaultTimeout = 5 * time.Second

// JSONClient sends and receives JSON over HTTP.
type JSONClient struct {
	http *http.Client
}

// NewJSONClient returns a client whose requests are bounded by timeout;
// zero or negative means DefaultTimeout.
func NewJSONClient(timeout time.Duration) *JSONClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &JSONClient{http: &http.Client{Timeout: timeout}}
}

// PostJSON sends body as JSON and decodes the response into out (if non-nil).
func (c *JSONClient) PostJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, c.http, http.MethodPost, url, body, out)
}

// PutJSON is PostJSON with the PUT verb.
func (c *JSONClient) PutJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, c.http, http.MethodPut, url, body, out)
}

// GetJSON fetches url and decodes the response into out (if non-nil).
func (c *JSONClient) GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, c.http, http.MethodGet, url, nil, out)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
