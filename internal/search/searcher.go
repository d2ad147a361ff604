package search

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/dreamware/shardsync/internal/cluster"
	"github.com/dreamware/shardsync/internal/metrics"
)

// ErrEmptyQuery is returned for a blank search term.
const ErrEmptyQuery = errors.ConstError("Missing search query")

// DataField is the document field searched by phrase.
const DataField = "data"

// Searcher answers phrase queries over record data.
type Searcher struct {
	engine  Engine
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSearcher returns a Searcher backed by engine.
func NewSearcher(engine Engine, logger zerolog.Logger, m *metrics.Metrics) *Searcher {
	return &Searcher{engine: engine, logger: logger, metrics: m}
}

// Search returns documents whose data contains term as a phrase. Engine
// failures are returned, never reported as an empty result.
func (s *Searcher) Search(ctx context.Context, term string) ([]cluster.Document, error) {
	if strings.TrimSpace(term) == "" {
		return nil, ErrEmptyQuery
	}
	docs, err := s.engine.PhraseQuery(ctx, DataField, term)
	if err != nil {
		s.metrics.SearchFailed()
		s.logger.Warn().Err(err).Str("term", term).Msg("search failed")
		return nil, errors.Trace(err)
	}
	return docs, nil
}
