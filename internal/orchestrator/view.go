package orchestrator

import (
	"time"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/run"
)

// View is the operator-facing state of a session.
type View struct {
	CampaignID      string                             `json:"campaign_id"`
	CampaignName    string                             `json:"campaign_name"`
	Status          domain.CallingStatus               `json:"status"`
	RunID           string                             `json:"run_id,omitempty"`
	RunStatus       domain.RunStatus                   `json:"run_status,omitempty"`
	AgentID         string                             `json:"agent_id,omitempty"`
	SelectedAgent   string                             `json:"selected_agent,omitempty"`
	StartTime       *time.Time                         `json:"start_time,omitempty"`
	EndTime         *time.Time                         `json:"end_time,omitempty"`
	CurrentIndex    int                                `json:"current_index"`
	TotalContacts   int                                `json:"total_contacts"`
	Progress        float64                            `json:"progress"`
	IsActive        bool                               `json:"is_active"`
	Backend         ProgressView                       `json:"backend_progress"`
	Attempts        []domain.CallAttempt               `json:"attempts"`
	Connection      map[string]domain.ConnectionStatus `json:"connection"`
	LiveTrackers    int                                `json:"live_trackers"`
	Notice          *run.Notice                        `json:"notice,omitempty"`
	ReadyForNextRun bool                               `json:"ready_for_next_run"`
	Groups          []GroupView                        `json:"groups"`
	Agents          []AgentView                        `json:"agents"`
	RefreshedAt     *time.Time                         `json:"refreshed_at,omitempty"`
}

// ProgressView mirrors the backend's progress counters.
type ProgressView struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
}

type GroupView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactCount int    `json:"contact_count"`
}

type AgentView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TranscriptView is a parsed transcript returned to the operator.
type TranscriptView struct {
	DocumentID string                  `json:"document_id"`
	Lines      []domain.TranscriptLine `json:"lines"`
	Viewed     bool                    `json:"viewed"`
}

func newView(st run.State, cs campaign.Snapshot, live int) View {
	v := View{
		CampaignID:    st.CampaignID,
		CampaignName:  cs.Campaign.Name,
		Status:        st.Status,
		RunID:         st.RunID,
		RunStatus:     st.RunStatus,
		AgentID:       st.AgentID,
		SelectedAgent: cs.SelectedAgent,
		StartTime:     timePtr(st.StartTime),
		EndTime:       timePtr(st.EndTime),
		CurrentIndex:  st.CurrentIndex,
		TotalContacts: st.TotalContacts,
		Progress:      st.Progress(),
		IsActive:      st.IsActive,
		Backend: ProgressView{
			Total:      st.BackendProgress.Total,
			Completed:  st.BackendProgress.Completed,
			InProgress: st.BackendProgress.InProgress,
		},
		Attempts:        st.Attempts,
		Connection:      st.Connection,
		LiveTrackers:    live,
		Notice:          st.Notice,
		ReadyForNextRun: st.ReadyForNextRun,
		Groups:          make([]GroupView, 0, len(cs.Groups)),
		Agents:          make([]AgentView, 0, len(cs.Agents)),
		RefreshedAt:     timePtr(cs.RefreshedAt),
	}
	if v.Attempts == nil {
		v.Attempts = []domain.CallAttempt{}
	}
	for _, g := range cs.Groups {
		v.Groups = append(v.Groups, GroupView{ID: g.ID, Name: g.Name, ContactCount: g.ContactCount})
	}
	for _, a := range cs.Agents {
		v.Agents = append(v.Agents, AgentView{ID: a.ID, Name: a.Name})
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
