package search

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/dreamware/shardsync/internal/cluster"
)

// DefaultIndex is the single index all records are published to.
const DefaultIndex = "records"

// Engine is the search engine capability: index a document, run a phrase
// query on one field.
type Engine interface {
	Index(ctx context.Context, doc cluster.Document) error
	PhraseQuery(ctx context.Context, field, term string) ([]cluster.Document, error)
}

// Client talks to an Elasticsearch compatible REST API.
type Client struct {
	baseURL string
	index   string
	json    *cluster.JSONClient
}

// NewClient returns a client for index on the engine at baseURL.
// timeout bounds every request; zero means 5 seconds.
func NewClient(baseURL, index string, timeout time.Duration) *Client {
	if index == "" {
		index = DefaultIndex
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		json:    cluster.NewJSONClient(timeout),
	}
}

// Index stores doc under its shard-qualified key, replacing any previous
// version.
func (c *Client) Index(ctx context.Context, doc cluster.Document) error {
	u := c.baseURL + "/" + url.PathEscape(c.index) + "/_doc/" + url.PathEscape(doc.Key())
	if err := c.json.PutJSON(ctx, u, doc, nil); err != nil {
		return errors.Annotatef(err, "indexing %s", doc.Key())
	}
	return nil
}

type phraseQuery struct {
	Query struct {
		MatchPhrase map[string]string `json:"match_phrase"`
	} `json:"query"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source cluster.Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// PhraseQuery returns the documents whose field matches term as a phrase,
// in the order the engine ranked them.
func (c *Client) PhraseQuery(ctx context.Context, field, term string) ([]cluster.Document, error) {
	var q phraseQuery
	q.Query.MatchPhrase = map[string]string{field: term}

	var resp searchResponse
	u := c.baseURL + "/" + url.PathEscape(c.index) + "/_search"
	if err := c.json.PostJSON(ctx, u, q, &resp); err != nil {
		return nil, errors.Annotate(err, "search")
	}
	docs := make([]cluster.Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}

// Ping checks that the engine answers on its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return errors.Trace(c.json.GetJSON(ctx, c.baseURL+"/", nil))
}

var _ Engine = (*Client)(nil)
