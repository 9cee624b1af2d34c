package results

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
)

type pagedSource struct {
	mu      sync.Mutex
	pages   map[int]backend.CallPage
	queries []backend.PageQuery
	err     error
}

func (s *pagedSource) fetch(ctx context.Context, q backend.PageQuery) (backend.CallPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return backend.CallPage{}, s.err
	}
	return s.pages[q.Page], nil
}

func entry(doc string, status domain.CallLogStatus, d time.Duration) domain.MergedCallLogEntry {
	return domain.MergedCallLogEntry{DocumentID: doc, Phone: "+1" + doc, Status: status, Duration: d}
}

func docIDs(v View) []string {
	out := make([]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		out = append(out, e.DocumentID)
	}
	return out
}

func TestLoadMoreMergesOverlappingPages(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {
			Entries: []domain.MergedCallLogEntry{
				entry("a", domain.CallLogConnected, 10*time.Second),
				entry("b", domain.CallLogMissed, 0),
				entry("c", domain.CallLogCompleted, 5*time.Second),
			},
			Pagination: backend.Pagination{Page: 1, TotalPages: 2},
		},
		2: {
			Entries: []domain.MergedCallLogEntry{
				entry("c", domain.CallLogCompleted, 5*time.Second),
				entry("d", domain.CallLogNotConnected, 0),
			},
			Pagination: backend.Pagination{Page: 2, TotalPages: 2},
		},
	}}
	agg := New("merged-calls", "c1", 3, src.fetch, nil)
	ctx := context.Background()

	v, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, v.HasMore)

	v, err = agg.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, docIDs(v))
	assert.False(t, v.HasMore)
	assert.Equal(t, Derived{Connected: 2, Missed: 2, TotalDuration: 15 * time.Second}, v.Derived)

	// Nothing left to load.
	_, err = agg.LoadMore(ctx)
	require.NoError(t, err)
	assert.Len(t, src.queries, 2)
	assert.Equal(t, 3, src.queries[0].Limit)
	assert.Equal(t, "c1", src.queries[0].CampaignID)
}

func TestDerivedStateRecomputedOnlyWhenPayloadChanges(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {Entries: []domain.MergedCallLogEntry{entry("a", domain.CallLogRinging, 0)}},
	}}
	agg := New("call-logs-dashboard", "c1", 10, src.fetch, nil)
	ctx := context.Background()

	first, err := agg.Refresh(ctx)
	require.NoError(t, err)

	same, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Version, same.Version)

	src.mu.Lock()
	src.pages[1] = backend.CallPage{Entries: []domain.MergedCallLogEntry{entry("a", domain.CallLogCompleted, 7*time.Second)}}
	src.mu.Unlock()

	changed, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Greater(t, changed.Version, same.Version)
	assert.Equal(t, 1, changed.Derived.Connected)
	assert.Equal(t, 7*time.Second, changed.Derived.TotalDuration)
}

func TestFetchErrorKeepsView(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {Entries: []domain.MergedCallLogEntry{entry("a", domain.CallLogMissed, 0)}},
	}}
	agg := New("merged-calls", "c1", 10, src.fetch, nil)
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)

	src.err = errors.New("boom")
	v, err := agg.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, docIDs(v))
}

func TestRunFilterAndReset(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {Entries: []domain.MergedCallLogEntry{entry("a", domain.CallLogMissed, 0)}},
	}}
	agg := New("merged-calls", "c1", 10, src.fetch, nil)
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)

	agg.SetRunID("r2")
	assert.Empty(t, agg.View().Entries)

	_, err = agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", src.queries[len(src.queries)-1].RunID)

	agg.Reset()
	v := agg.View()
	assert.Empty(t, v.Entries)
	assert.Equal(t, Derived{}, v.Derived)
}

func TestRefreshKeepsLoadedPages(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {
			Entries: []domain.MergedCallLogEntry{
				entry("a", domain.CallLogRinging, 0),
				entry("b", domain.CallLogMissed, 0),
			},
			Pagination: backend.Pagination{Page: 1, TotalPages: 2},
		},
		2: {
			Entries:    []domain.MergedCallLogEntry{entry("c", domain.CallLogCompleted, 5*time.Second)},
			Pagination: backend.Pagination{Page: 2, TotalPages: 2},
		},
	}}
	agg := New("merged-calls", "c1", 2, src.fetch, nil)
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)
	loaded, err := agg.LoadMore(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, docIDs(loaded))

	same, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, docIDs(same))
	assert.False(t, same.HasMore)
	assert.Equal(t, 2, same.Pagination.Page)
	assert.Equal(t, loaded.Version, same.Version)

	// A new record on page one goes first; a changed one is updated in place.
	src.mu.Lock()
	src.pages[1] = backend.CallPage{
		Entries: []domain.MergedCallLogEntry{
			entry("n", domain.CallLogRinging, 0),
			entry("a", domain.CallLogCompleted, 9*time.Second),
		},
		Pagination: backend.Pagination{Page: 1, TotalPages: 2},
	}
	src.mu.Unlock()

	merged, err := agg.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "a", "b", "c"}, docIDs(merged))
	assert.Equal(t, domain.CallLogCompleted, merged.Entries[1].Status)
	assert.Equal(t, 2, merged.Pagination.Page)
	assert.Equal(t, 14*time.Second, merged.Derived.TotalDuration)
	assert.Greater(t, merged.Version, same.Version)
}

func TestReloadDropsLoadedPages(t *testing.T) {
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {
			Entries:    []domain.MergedCallLogEntry{entry("a", domain.CallLogMissed, 0)},
			Pagination: backend.Pagination{Page: 1, TotalPages: 2},
		},
		2: {
			Entries:    []domain.MergedCallLogEntry{entry("b", domain.CallLogMissed, 0)},
			Pagination: backend.Pagination{Page: 2, TotalPages: 2},
		},
	}}
	agg := New("merged-calls", "c1", 1, src.fetch, nil)
	ctx := context.Background()

	_, err := agg.Refresh(ctx)
	require.NoError(t, err)
	_, err = agg.LoadMore(ctx)
	require.NoError(t, err)

	v, err := agg.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, docIDs(v))
	assert.True(t, v.HasMore)
}

func TestRecencySurvivesRunFilterChange(t *testing.T) {
	t0 := time.Now().Add(-5 * time.Second)
	src := &pagedSource{pages: map[int]backend.CallPage{
		1: {Entries: []domain.MergedCallLogEntry{
			{DocumentID: "a", Name: "Ann", Phone: "+15550001", StartedAt: t0},
			{DocumentID: "b", Name: "ann", Phone: "+1 555 0001", StartedAt: t0.Add(time.Second)},
			{DocumentID: "c", Name: "Bob", Phone: "+15550002", StartedAt: t0},
		}},
	}}
	rec := NewRecency(30 * time.Second)
	agg := New("merged-calls", "c1", 10, src.fetch, nil, WithRecency(rec))
	_, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	key := domain.Contact{Name: "Ann", Phone: "+15550001"}.DedupKey()
	got, ok := rec.LastSeen(key)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), got)

	agg.SetRunID("r2")
	agg.Reset()
	_, ok = rec.LastSeen(key)
	assert.True(t, ok)

	_, ok = rec.LastSeen(domain.Contact{Name: "Zed", Phone: "+19999"}.DedupKey())
	assert.False(t, ok)
}

func TestRecencyPrunesOutsideWindow(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecency(30 * time.Second)

	rec.Observe("ann", t0)
	rec.Observe("bob", t0.Add(10*time.Second))
	rec.Observe("ann", t0.Add(-time.Minute))
	got, ok := rec.LastSeen("ann")
	require.True(t, ok)
	assert.Equal(t, t0, got)

	rec.Observe("cy", t0.Add(35*time.Second))
	_, ok = rec.LastSeen("ann")
	assert.False(t, ok)
	assert.Equal(t, 2, rec.Len())

	off := NewRecency(0)
	off.Observe("ann", t0)
	assert.Zero(t, off.Len())
}
