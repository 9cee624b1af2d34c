package results

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Fetcher loads one page of merged call records.
type Fetcher func(ctx context.Context, q backend.PageQuery) (backend.CallPage, error)

// Derived holds the counters computed from the merged entries.
type Derived struct {
	Connected     int           `json:"connected"`
	Missed        int           `json:"missed"`
	TotalDuration time.Duration `json:"total_duration"`
}

// View is a consistent copy of the aggregated list.
type View struct {
	RunID      string                      `json:"run_id,omitempty"`
	Entries    []domain.MergedCallLogEntry `json:"entries"`
	Totals     backend.Totals              `json:"totals"`
	Derived    Derived                     `json:"derived"`
	Pagination backend.Pagination          `json:"pagination"`
	HasMore    bool                        `json:"has_more"`
	Version    uint64                      `json:"version"`
}

// Aggregator merges paginated, possibly overlapping pages of call records
// into one deduplicated list. Entry order is the order of first sighting,
// except that new records found by a background refresh go first.
type Aggregator struct {
	name       string
	campaignID string
	pageSize   int
	fetch      Fetcher
	recency    *Recency
	logger     *logger.Logger

	mu         sync.Mutex
	runID      string
	entries    []domain.MergedCallLogEntry
	index      map[string]int
	totals     backend.Totals
	pagination backend.Pagination
	derived    Derived
	hashes     map[int]uint64
	loaded     int
	version    uint64
}

// Option customises an aggregator.
type Option func(*Aggregator)

// WithRecency records every fetched entry in r.
func WithRecency(r *Recency) Option {
	return func(a *Aggregator) { a.recency = r }
}

type fetchMode int

const (
	modeReplace fetchMode = iota
	modeAppend
	modeMerge
)

// New constructs an empty aggregator.
func New(name, campaignID string, pageSize int, fetch Fetcher, log *logger.Logger, opts ...Option) *Aggregator {
	if pageSize <= 0 {
		pageSize = 20
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &Aggregator{
		name:       name,
		campaignID: campaignID,
		pageSize:   pageSize,
		fetch:      fetch,
		logger:     log.Named("results").With(zap.String("view", name), zap.String("campaign_id", campaignID)),
		index:      make(map[string]int),
		hashes:     make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the backing endpoint.
func (a *Aggregator) Name() string {
	return a.name
}

// Fetch loads page. A fresh fetch replaces the view; an append fetch adds
// only entries whose identity key is new.
func (a *Aggregator) Fetch(ctx context.Context, page int, appendPage bool) (View, error) {
	mode := modeReplace
	if appendPage {
		mode = modeAppend
	}
	return a.load(ctx, page, mode)
}

// LoadMore appends the next page when there is one.
func (a *Aggregator) LoadMore(ctx context.Context) (View, error) {
	a.mu.Lock()
	next := a.pagination.Page + 1
	more := a.pagination.Page < a.pagination.TotalPages
	a.mu.Unlock()

	if !more {
		return a.View(), nil
	}
	return a.load(ctx, next, modeAppend)
}

// Refresh reloads the first page. Once further pages were loaded, the
// first page is merged into the list so loaded pages are kept.
func (a *Aggregator) Refresh(ctx context.Context) (View, error) {
	a.mu.Lock()
	mode := modeReplace
	if a.loaded > 1 {
		mode = modeMerge
	}
	a.mu.Unlock()
	return a.load(ctx, 1, mode)
}

// Reload discards loaded pages and fetches the first page again.
func (a *Aggregator) Reload(ctx context.Context) (View, error) {
	return a.load(ctx, 1, modeReplace)
}

func (a *Aggregator) load(ctx context.Context, page int, mode fetchMode) (View, error) {
	if page <= 0 {
		page = 1
	}

	a.mu.Lock()
	runID := a.runID
	a.mu.Unlock()

	res, err := a.fetch(ctx, backend.PageQuery{CampaignID: a.campaignID, RunID: runID, Page: page, Limit: a.pageSize})
	if err != nil {
		return a.View(), fmt.Errorf("results %s: fetch page %d: %w", a.name, page, err)
	}
	if a.recency != nil {
		a.recency.ObserveEntries(res.Entries)
	}

	hash, err := payloadHash(res)
	if err != nil {
		return a.View(), fmt.Errorf("results %s: hash page %d: %w", a.name, page, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runID != runID {
		// The run filter changed while the request was in flight.
		return a.viewLocked(), nil
	}

	prev, seen := a.hashes[page]
	unchanged := seen && prev == hash
	a.totals = res.Totals

	switch mode {
	case modeReplace:
		if unchanged && a.loaded == 1 {
			return a.viewLocked(), nil
		}
		a.entries = a.entries[:0]
		a.index = make(map[string]int, len(res.Entries))
		a.hashes = map[int]uint64{page: hash}
		a.upsertLocked(res.Entries, false)
		a.loaded = page
		a.pagination = res.Pagination
		if a.pagination.Page == 0 {
			a.pagination.Page = page
		}
	case modeAppend:
		a.hashes[page] = hash
		if page > a.loaded {
			a.loaded = page
		}
		a.pagination = res.Pagination
		if a.pagination.Page == 0 {
			a.pagination.Page = page
		}
		if unchanged {
			return a.viewLocked(), nil
		}
		a.upsertLocked(res.Entries, false)
	case modeMerge:
		a.hashes[page] = hash
		a.pagination.TotalPages = res.Pagination.TotalPages
		a.pagination.TotalItems = res.Pagination.TotalItems
		if unchanged {
			return a.viewLocked(), nil
		}
		a.upsertLocked(res.Entries, true)
	}

	a.recomputeLocked()
	return a.viewLocked(), nil
}

// upsertLocked updates known entries in place and adds unseen ones, at the
// end or, when prepend is set, ahead of the existing list in page order.
func (a *Aggregator) upsertLocked(entries []domain.MergedCallLogEntry, prepend bool) {
	var fresh []domain.MergedCallLogEntry
	freshIdx := make(map[string]int)
	for _, e := range entries {
		key := e.IdentityKey()
		if i, ok := a.index[key]; ok {
			a.entries[i] = e
			continue
		}
		if !prepend {
			a.index[key] = len(a.entries)
			a.entries = append(a.entries, e)
			continue
		}
		if i, ok := freshIdx[key]; ok {
			fresh[i] = e
			continue
		}
		freshIdx[key] = len(fresh)
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return
	}
	a.entries = append(fresh, a.entries...)
	for i, e := range a.entries {
		a.index[e.IdentityKey()] = i
	}
}

// Reset clears the view.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

// SetRunID filters subsequent fetches to one run; changing it clears the view.
func (a *Aggregator) SetRunID(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runID == runID {
		return
	}
	a.runID = runID
	a.resetLocked()
}

// View returns the current view.
func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

func (a *Aggregator) resetLocked() {
	a.entries = nil
	a.index = make(map[string]int)
	a.totals = backend.Totals{}
	a.pagination = backend.Pagination{}
	a.derived = Derived{}
	a.hashes = make(map[int]uint64)
	a.loaded = 0
	a.version++
}

func (a *Aggregator) recomputeLocked() {
	var d Derived
	for _, e := range a.entries {
		switch {
		case e.Status.IsConnected():
			d.Connected++
		case e.Status.IsMissed():
			d.Missed++
		}
		d.TotalDuration += e.Duration
	}
	a.derived = d
	a.version++
	a.logger.Debug("derived results recomputed", zap.Int("entries", len(a.entries)), zap.Uint64("version", a.version))
}

func (a *Aggregator) viewLocked() View {
	return View{
		RunID:      a.runID,
		Entries:    append(make([]domain.MergedCallLogEntry, 0, len(a.entries)), a.entries...),
		Totals:     a.totals,
		Derived:    a.derived,
		Pagination: a.pagination,
		HasMore:    a.pagination.Page < a.pagination.TotalPages,
		Version:    a.version,
	}
}

func payloadHash(page backend.CallPage) (uint64, error) {
	raw, err := json.Marshal(page)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(raw), nil
}
