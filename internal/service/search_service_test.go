package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/gateway"
	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/apperr"
)

func TestSearchEnrichesAndRecordsHistory(t *testing.T) {
	docs := newFakeDocumentRepo()
	_ = docs.Create(context.Background(), &model.Document{UserID: 3, Title: "Guide"})
	_ = docs.Create(context.Background(), &model.Document{UserID: 3, Title: "Gone"})
	_ = docs.Delete(context.Background(), 2)

	searcher := &fakeSearcher{matches: []gateway.Match{
		{ChunkID: 10, DocumentID: 1, Score: 0.9, Content: "a"},
		{ChunkID: 11, DocumentID: 2, Score: 0.8, Content: "stale"},
		{ChunkID: 12, DocumentID: 1, Score: 0.7, Content: "b"},
	}}
	history := &fakeSearchHistoryRepo{}
	svc := NewSearchService(searcher, docs, history, config.SearchConfig{DefaultThreshold: 0.3, DefaultLimit: 5})

	results, err := svc.Search(context.Background(), 3, "  how to  ", nil, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Guide", results[0].DocumentTitle)
	assert.Equal(t, uint(12), results[1].ChunkID)
	assert.Equal(t, 1, searcher.gotOpts)

	require.Len(t, history.entries, 1)
	assert.Equal(t, "how to", history.entries[0].Query)
	assert.Equal(t, 2, history.entries[0].ResultCount)
	assert.Equal(t, 0.9, history.entries[0].TopScore)
}

func TestSearchErrors(t *testing.T) {
	svc := NewSearchService(&fakeSearcher{err: &apperr.SearchError{Err: errors.New("down")}}, newFakeDocumentRepo(), &fakeSearchHistoryRepo{}, config.SearchConfig{})

	_, err := svc.Search(context.Background(), 3, " ", nil, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Search(context.Background(), 3, "q", nil, 0)
	assert.ErrorIs(t, err, apperr.ErrProvider)
}
