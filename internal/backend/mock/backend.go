package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// Options tunes the simulated dialer.
type Options struct {
	// AnswerRate is the share of calls that connect.
	AnswerRate float64
	// RingDuration is how long a call rings before it is answered or dropped.
	RingDuration time.Duration
	// TalkDuration is how long an answered call lasts.
	TalkDuration time.Duration
	// FinalizeGrace is how long a run stays active after its last call ends.
	FinalizeGrace time.Duration
	// Credits limits the number of calls; negative means unlimited.
	Credits int
	Seed    int64
}

// DefaultOptions mirrors a slow but realistic dialer.
func DefaultOptions() Options {
	return Options{
		AnswerRate:    0.8,
		RingDuration:  4 * time.Second,
		TalkDuration:  12 * time.Second,
		FinalizeGrace: 5 * time.Second,
		Credits:       -1,
		Seed:          time.Now().UnixNano(),
	}
}

type call struct {
	campaignID string
	runID      string
	contact    domain.Contact
	uniqueID   string
	startedAt  time.Time
	answered   bool
}

type run struct {
	id        string
	startedAt time.Time
	stopped   bool
}

type campaignData struct {
	campaign domain.Campaign
	groups   []domain.Group
	agents   []domain.Agent
	run      *run
}

// Backend simulates the calling backend in memory. Call progress is derived
// from timestamps, so the simulation needs no goroutines.
type Backend struct {
	mu        sync.Mutex
	opts      Options
	rng       *rand.Rand
	now       func() time.Time
	campaigns map[string]*campaignData
	contacts  map[string][]domain.Contact
	calls     map[string]*call
	order     []string
	history   map[string][]domain.RunRecord
	saves     map[string]int
	fail      map[string]error
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a simulated backend.
func New(opts Options) *Backend {
	return &Backend{
		opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		now:       time.Now,
		campaigns: make(map[string]*campaignData),
		contacts:  make(map[string][]domain.Contact),
		calls:     make(map[string]*call),
		history:   make(map[string][]domain.RunRecord),
		saves:     make(map[string]int),
		fail:      make(map[string]error),
	}
}

// SetClock replaces the time source.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Seed registers a campaign together with its groups, their contacts and agents.
func (b *Backend) Seed(c domain.Campaign, groups map[domain.Group][]domain.Contact, agents []domain.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := &campaignData{campaign: c, agents: agents}
	data.campaign.GroupIDs = nil
	data.campaign.AgentIDs = nil
	for g, contacts := range groups {
		g.ContactCount = len(contacts)
		data.groups = append(data.groups, g)
		data.campaign.GroupIDs = append(data.campaign.GroupIDs, g.ID)
		b.contacts[g.ID] = append([]domain.Contact(nil), contacts...)
	}
	sort.Slice(data.groups, func(i, j int) bool { return data.groups[i].ID < data.groups[j].ID })
	sort.Strings(data.campaign.GroupIDs)
	for _, a := range agents {
		data.campaign.AgentIDs = append(data.campaign.AgentIDs, a.ID)
	}
	b.campaigns[c.ID] = data
}

// SeedDemo registers the "demo" campaign used when the service runs
// against the simulated backend.
func (b *Backend) SeedDemo() {
	b.Seed(
		domain.Campaign{ID: "demo", Name: "Demo campaign"},
		map[domain.Group][]domain.Contact{
			{ID: "demo-leads", Name: "Leads"}: {
				{ID: "d1", Name: "Ada Lovelace", Phone: "+15550100"},
				{ID: "d2", Name: "Alan Turing", Phone: "+15550101"},
				{ID: "d3", Name: "Grace Hopper", Phone: "+15550102"},
			},
			{ID: "demo-followups", Name: "Follow-ups"}: {
				{ID: "d4", Name: "Ada Lovelace", Phone: "+1 (555) 0100"},
				{ID: "d5", Name: "Edsger Dijkstra", Phone: "+15550103"},
			},
		},
		[]domain.Agent{{ID: "demo-agent", Name: "Demo agent"}},
	)
}

// FailNext makes the next call to the named operation return err.
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = err
}

// SetCredits resets the remaining call credits; negative means unlimited.
func (b *Backend) SetCredits(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Credits = n
}

// SaveCount reports how many times SaveRun was called for a run.
func (b *Backend) SaveCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[runID]
}

// Calls returns the unique ids of every call placed, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

func (b *Backend) injected(op string) error {
	if err, ok := b.fail[op]; ok {
		delete(b.fail, op)
		return err
	}
	return nil
}

func (b *Backend) campaign(id string) (*campaignData, error) {
	data, ok := b.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", apperrors.ErrNotFound, id)
	}
	return data, nil
}

// InitiateCall simulates placing a call.
func (b *Backend) InitiateCall(ctx context.Context, req backend.CallRequest) (backend.CallResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected("InitiateCall"); err != nil {
		return backend.CallResult{}, err
	}
	if _, err := b.campaign(req.CampaignID); err != nil {
		return backend.CallResult{}, err
	}
	if b.opts.Credits == 0 {
		return backend.CallResult{}, fmt.Errorf("%w: no credits left", apperrors.ErrInsufficientCredits)
	}
	if req.Contact.Phone == "" {
		return backend.CallResult{Success: false, UniqueID: req.UniqueID, Message: "missing phone"}, nil
	}
	if _, dup := b.calls[req.UniqueID]; dup {
		return backend.CallResult{}, fmt.Errorf("%w: unique id %s reused", apperrors.ErrConflict, req.UniqueID)
	}
	if b.opts.Credits > 0 {
		b.opts.Credits--
	}

	b.calls[req.UniqueID] = &call{
		campaignID: req.CampaignID,
		runID:      req.RunID,
		contact:    req.Contact,
		uniqueID:   req.UniqueID,
		startedAt:  b.now(),
		answered:   b.rng.Float64() < b.opts.AnswerRate,
	}
	b.order = append(b.order, req.UniqueID)
	return backend.CallResult{Success: true, UniqueID: req.UniqueID}, nil
}

// InitiateBatch places one simulated call per contact.
func (b *Backend) InitiateBatch(ctx context.Context, req backend.BatchRequest) (backend.BatchResult, error) {
	accepted := 0
	for _, c := range req.Contacts {
		res, err := b.InitiateCall(ctx, backend.CallRequest{
			CampaignID: req.CampaignID,
			AgentID:    req.AgentID,
			Contact:    c,
			UniqueID:   uuid.NewString(),
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInsufficientCredits) {
				return backend.BatchResult{Success: accepted > 0, Accepted: accepted, Message: err.Error()}, err
			}
			continue
		}
		if res.Success {
			accepted++
		}
	}
	return backend.BatchResult{Success: true, Accepted: accepted}, nil
}

// StartCalling opens a run.
func (b *Backend) StartCalling(ctx context.Context, campaignID, agentID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected("StartCalling"); err != nil {
		return "", err
	}
	data, err := b.campaign(campaignID)
	if err != nil {
		return "", err
	}
	if data.run != nil && !b.runFinished(campaignID, data.run) {
		return data.run.id, nil
	}
	data.run = &run{id: uuid.NewString(), startedAt: b.now()}
	data.campaign.IsActive = true
	return data.run.id, nil
}

// StopCalling closes the current run.
func (b *Backend) StopCalling(ctx context.Context, campaignID, runID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.campaign(campaignID)
	if err != nil {
		return err
	}
	if data.run != nil && (runID == "" || data.run.id == runID) {
		data.run.stopped = true
		data.campaign.IsActive = false
	}
	return nil
}

// CallingStatus derives run activity from the simulated calls.
func (b *Backend) CallingStatus(ctx context.Context, campaignID string) (backend.CallingStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected("CallingStatus"); err != nil {
		return backend.CallingStatus{}, err
	}
	data, err := b.campaign(campaignID)
	if err != nil {
		return backend.CallingStatus{}, err
	}
	if data.run == nil {
		return backend.CallingStatus{}, nil
	}

	var progress backend.Progress
	allFinal := true
	for _, id := range b.order {
		c := b.calls[id]
		if c.runID != data.run.id {
			continue
		}
		progress.Total++
		if b.terminal(c) {
			progress.Completed++
		} else {
			progress.InProgress++
			allFinal = false
		}
	}

	finished := b.runFinished(campaignID, data.run)
	data.campaign.IsActive = !finished
	return backend.CallingStatus{
		IsActive:          !finished,
		RunID:             data.run.id,
		Progress:          progress,
		AllCallsFinalized: finished && allFinal && progress.Total > 0,
	}, nil
}

func (b *Backend) runFinished(campaignID string, r *run) bool {
	if r.stopped {
		return true
	}
	var last time.Time
	placed := 0
	for _, id := range b.order {
		c := b.calls[id]
		if c.runID != r.id {
			continue
		}
		placed++
		if !b.terminal(c) {
			return false
		}
		if end := c.startedAt.Add(b.callLength(c)); end.After(last) {
			last = end
		}
	}
	if placed == 0 {
		return false
	}
	return b.now().Sub(last) >= b.opts.FinalizeGrace
}

func (b *Backend) callLength(c *call) time.Duration {
	if c.answered {
		return b.opts.RingDuration + b.opts.TalkDuration
	}
	return b.opts.RingDuration
}

func (b *Backend) terminal(c *call) bool {
	return b.now().Sub(c.startedAt) >= b.callLength(c)
}

func (b *Backend) status(c *call) domain.CallLogStatus {
	elapsed := b.now().Sub(c.startedAt)
	switch {
	case elapsed < b.opts.RingDuration:
		return domain.CallLogRinging
	case !c.answered:
		return domain.CallLogNotConnected
	case elapsed < b.opts.RingDuration+b.opts.TalkDuration:
		return domain.CallLogOngoing
	default:
		return domain.CallLogCompleted
	}
}

var script = []string{
	"AI: Hello, this is a quick call about your recent enquiry.",
	"User: Oh, hi.",
	"AI: Would you like to hear about our new plan?",
	"User: Sure, tell me more.",
	"AI: Great, I will send the details over.",
}

func (b *Backend) transcript(c *call) string {
	if !c.answered {
		return ""
	}
	talked := b.now().Sub(c.startedAt) - b.opts.RingDuration
	if talked <= 0 {
		return ""
	}
	lines := len(script)
	if b.opts.TalkDuration > 0 && talked < b.opts.TalkDuration {
		lines = 1 + int(float64(len(script)-1)*float64(talked)/float64(b.opts.TalkDuration))
	}
	return strings.Join(script[:lines], "\n")
}

func (b *Backend) duration(c *call) time.Duration {
	if !c.answered {
		return 0
	}
	talked := b.now().Sub(c.startedAt) - b.opts.RingDuration
	if talked < 0 {
		return 0
	}
	if talked > b.opts.TalkDuration {
		return b.opts.TalkDuration
	}
	return talked
}

// CallLog returns the simulated record for one call.
func (b *Backend) CallLog(ctx context.Context, uniqueID string) (backend.CallLog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected("CallLog"); err != nil {
		return backend.CallLog{}, err
	}
	c, ok := b.calls[uniqueID]
	if !ok {
		return backend.CallLog{}, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, uniqueID)
	}

	st := b.status(c)
	lead := string(st)
	if st == domain.CallLogNotConnected {
		lead = "failed"
	}
	return backend.CallLog{
		UniqueID:   uniqueID,
		DocumentID: "doc-" + uniqueID,
		IsActive:   st.InProgress(),
		LeadStatus: lead,
		Transcript: b.transcript(c),
		Duration:   b.duration(c),
		UpdatedAt:  b.now(),
	}, nil
}

func (b *Backend) page(q backend.PageQuery) (backend.CallPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.campaign(q.CampaignID); err != nil {
		return backend.CallPage{}, err
	}

	var entries []domain.MergedCallLogEntry
	var totals backend.Totals
	for _, id := range b.order {
		c := b.calls[id]
		if c.campaignID != q.CampaignID || (q.RunID != "" && c.runID != q.RunID) {
			continue
		}
		st := b.status(c)
		e := domain.MergedCallLogEntry{
			DocumentID:  "doc-" + c.uniqueID,
			ContactID:   c.contact.ID,
			UniqueID:    c.uniqueID,
			Name:        c.contact.Name,
			Phone:       c.contact.Phone,
			Status:      st,
			Duration:    b.duration(c),
			Transcript:  b.transcript(c),
			Disposition: domain.DispositionDefault,
			StartedAt:   c.startedAt,
		}
		entries = append(entries, e)
		totals.TotalCalls++
		totals.TotalDuration += e.Duration
		switch {
		case st.IsConnected():
			totals.Connected++
		case st.IsMissed():
			totals.Missed++
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	totalPages := (len(entries) + limit - 1) / limit
	start := (page - 1) * limit
	if start > len(entries) {
		start = len(entries)
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}

	return backend.CallPage{
		Entries:    append([]domain.MergedCallLogEntry(nil), entries[start:end]...),
		Totals:     totals,
		Pagination: backend.Pagination{Page: page, TotalPages: totalPages, TotalItems: len(entries)},
	}, nil
}

// MergedCalls pages through the simulated calls.
func (b *Backend) MergedCalls(ctx context.Context, q backend.PageQuery) (backend.CallPage, error) {
	return b.page(q)
}

// CallLogsDashboard serves the same records as MergedCalls.
func (b *Backend) CallLogsDashboard(ctx context.Context, q backend.PageQuery) (backend.CallPage, error) {
	return b.page(q)
}

// Transcript returns the simulated transcript for a document.
func (b *Backend) Transcript(ctx context.Context, documentID string) (backend.Transcript, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.calls[strings.TrimPrefix(documentID, "doc-")]
	if !ok {
		return backend.Transcript{}, fmt.Errorf("%w: transcript %s", apperrors.ErrNotFound, documentID)
	}
	return backend.Transcript{DocumentID: documentID, Text: b.transcript(c)}, nil
}

// SaveRun records a run summary once per run id.
func (b *Backend) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.injected("SaveRun"); err != nil {
		return err
	}
	b.saves[rec.RunID]++
	for _, existing := range b.history[rec.CampaignID] {
		if existing.RunID == rec.RunID {
			return nil
		}
	}
	b.history[rec.CampaignID] = append(b.history[rec.CampaignID], rec)
	return nil
}

// RunHistory lists saved run summaries, newest first.
func (b *Backend) RunHistory(ctx context.Context, campaignID string) ([]domain.RunRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	runs := append([]domain.RunRecord(nil), b.history[campaignID]...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime.After(runs[j].StartTime) })
	return runs, nil
}

// Campaign returns the seeded campaign.
func (b *Backend) Campaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.campaign(campaignID)
	if err != nil {
		return domain.Campaign{}, err
	}
	return data.campaign, nil
}

// Groups returns the seeded groups.
func (b *Backend) Groups(ctx context.Context, campaignID string) ([]domain.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.campaign(campaignID)
	if err != nil {
		return nil, err
	}
	return append([]domain.Group(nil), data.groups...), nil
}

// GroupContacts returns the seeded contacts of a group.
func (b *Backend) GroupContacts(ctx context.Context, groupID string) ([]domain.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	contacts, ok := b.contacts[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", apperrors.ErrNotFound, groupID)
	}
	return append([]domain.Contact(nil), contacts...), nil
}

// Agents returns the seeded agents.
func (b *Backend) Agents(ctx context.Context, campaignID string) ([]domain.Agent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.campaign(campaignID)
	if err != nil {
		return nil, err
	}
	return append([]domain.Agent(nil), data.agents...), nil
}
