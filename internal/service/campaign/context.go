package campaign

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

const contactFetchConcurrency = 4

// Snapshot is a read-only view of a campaign and everything assigned to it.
type Snapshot struct {
	Campaign      domain.Campaign
	Groups        []domain.Group
	Agents        []domain.Agent
	Contacts      []domain.Contact
	SelectedAgent string
	RefreshedAt   time.Time
}

// HasAgent reports whether agentID is assigned to the campaign.
func (s Snapshot) HasAgent(agentID string) bool {
	for _, a := range s.Agents {
		if a.ID == agentID {
			return true
		}
	}
	for _, id := range s.Campaign.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Context keeps the campaign snapshot used by a session.
type Context struct {
	dir        backend.Directory
	campaignID string
	logger     *logger.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewContext constructs an empty context for a campaign.
func NewContext(dir backend.Directory, campaignID string, log *logger.Logger) *Context {
	if log == nil {
		log = logger.NewNop()
	}
	return &Context{
		dir:        dir,
		campaignID: campaignID,
		logger:     log.Named("campaign").With(zap.String("campaign_id", campaignID)),
		snap:       Snapshot{Campaign: domain.Campaign{ID: campaignID}},
	}
}

// CampaignID returns the id the context was built for.
func (c *Context) CampaignID() string {
	return c.campaignID
}

// Refresh reloads the campaign, its groups, agents and the contacts of every
// group. Contacts keep group order; the snapshot is replaced only when every
// fetch succeeded.
func (c *Context) Refresh(ctx context.Context) (Snapshot, error) {
	var (
		camp   domain.Campaign
		groups []domain.Group
		agents []domain.Agent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		camp, err = c.dir.Campaign(gctx, c.campaignID)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = c.dir.Groups(gctx, c.campaignID)
		return err
	})
	g.Go(func() error {
		var err error
		agents, err = c.dir.Agents(gctx, c.campaignID)
		return err
	})
	if err := g.Wait(); err != nil {
		return c.Snapshot(), fmt.Errorf("campaign context: refresh: %w", err)
	}

	groupIDs := make([]string, 0, len(groups))
	for _, grp := range groups {
		groupIDs = append(groupIDs, grp.ID)
	}
	if len(groupIDs) == 0 {
		groupIDs = camp.GroupIDs
	}

	perGroup := make([][]domain.Contact, len(groupIDs))
	cg, cctx := errgroup.WithContext(ctx)
	cg.SetLimit(contactFetchConcurrency)
	for i, id := range groupIDs {
		i, id := i, id
		cg.Go(func() error {
			contacts, err := c.dir.GroupContacts(cctx, id)
			if err != nil {
				return fmt.Errorf("group %s: %w", id, err)
			}
			perGroup[i] = contacts
			return nil
		})
	}
	if err := cg.Wait(); err != nil {
		return c.Snapshot(), fmt.Errorf("campaign context: load contacts: %w", err)
	}

	var contacts []domain.Contact
	for _, batch := range perGroup {
		for _, ct := range batch {
			if strings.TrimSpace(ct.Phone) == "" {
				c.logger.Debug("skipping contact without phone", zap.String("contact_id", ct.ID))
				continue
			}
			contacts = append(contacts, ct)
		}
	}
	camp.Contacts = contacts
	if len(camp.GroupIDs) == 0 {
		camp.GroupIDs = groupIDs
	}

	c.mu.Lock()
	selected := c.snap.SelectedAgent
	if selected == "" && len(agents) == 1 {
		selected = agents[0].ID
	}
	c.snap = Snapshot{
		Campaign:      camp,
		Groups:        groups,
		Agents:        agents,
		Contacts:      contacts,
		SelectedAgent: selected,
		RefreshedAt:   time.Now().UTC(),
	}
	snap := c.snap
	c.mu.Unlock()

	c.logger.Debug("campaign context refreshed",
		zap.Int("groups", len(groups)),
		zap.Int("agents", len(agents)),
		zap.Int("contacts", len(contacts)),
	)
	return snap, nil
}

// Snapshot returns the current snapshot.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// SelectAgent records the agent the next run uses.
func (c *Context) SelectAgent(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if agentID != "" && len(c.snap.Agents) > 0 && !c.snap.HasAgent(agentID) {
		return fmt.Errorf("%w: agent %s is not assigned to campaign %s", apperrors.ErrValidation, agentID, c.campaignID)
	}
	c.snap.SelectedAgent = agentID
	return nil
}

// SetActive mirrors the run controller's active flag onto the campaign.
func (c *Context) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Campaign.IsActive = active
}

// ValidateStart checks the preconditions for starting a run with agentID.
// An empty agentID falls back to the selected agent. It returns the agent
// to use.
func (c *Context) ValidateStart(agentID string) (string, error) {
	snap := c.Snapshot()
	if agentID == "" {
		agentID = snap.SelectedAgent
	}
	switch {
	case agentID == "":
		return "", fmt.Errorf("%w: no agent selected", apperrors.ErrPrecondition)
	case len(snap.Campaign.GroupIDs) == 0 && len(snap.Groups) == 0:
		return "", fmt.Errorf("%w: no groups assigned", apperrors.ErrPrecondition)
	case len(snap.Contacts) == 0:
		return "", fmt.Errorf("%w: no contacts available", apperrors.ErrPrecondition)
	}
	return agentID, nil
}
