package rest

import (
	"context"
	"net/http"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/domain"
)

var _ backend.Backend = (*Client)(nil)

// InitiateCall places one call.
func (c *Client) InitiateCall(ctx context.Context, req backend.CallRequest) (backend.CallResult, error) {
	body := initiateCallRequest{
		CampaignID: req.CampaignID,
		RunID:      req.RunID,
		AgentID:    req.AgentID,
		Contact:    toContactPayload(req.Contact),
		Phone:      req.Contact.Phone,
		UniqueID:   req.UniqueID,
	}
	var resp initiateCallResponse
	if err := c.do(ctx, http.MethodPost, "/calls/single", nil, body, &resp); err != nil {
		return backend.CallResult{}, err
	}
	return backend.CallResult{Success: resp.Success, UniqueID: resp.UniqueID, Message: resp.Message}, nil
}

// InitiateBatch asks the backend to dial a list of contacts itself.
func (c *Client) InitiateBatch(ctx context.Context, req backend.BatchRequest) (backend.BatchResult, error) {
	body := batchRequest{AgentID: req.AgentID, Contacts: make([]contactPayload, 0, len(req.Contacts))}
	for _, ct := range req.Contacts {
		body.Contacts = append(body.Contacts, toContactPayload(ct))
	}
	var resp batchResponse
	if err := c.do(ctx, http.MethodPost, "/campaigns/"+escape(req.CampaignID)+"/calls/batch", nil, body, &resp); err != nil {
		return backend.BatchResult{}, err
	}
	return backend.BatchResult{Success: resp.Success, Accepted: resp.Accepted, Message: resp.Message}, nil
}

// StartCalling opens a run and returns its id.
func (c *Client) StartCalling(ctx context.Context, campaignID, agentID string) (string, error) {
	var resp startCallingResponse
	if err := c.do(ctx, http.MethodPost, "/campaigns/"+escape(campaignID)+"/start-calling", nil, startCallingRequest{AgentID: agentID}, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// StopCalling closes a run.
func (c *Client) StopCalling(ctx context.Context, campaignID, runID string) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+escape(campaignID)+"/stop-calling", nil, stopCallingRequest{RunID: runID}, nil)
}

// CallingStatus fetches the aggregate status of the campaign's run.
func (c *Client) CallingStatus(ctx context.Context, campaignID string) (backend.CallingStatus, error) {
	var resp callingStatusResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(campaignID)+"/calling-status", nil, nil, &resp); err != nil {
		return backend.CallingStatus{}, err
	}
	return resp.toBackend(), nil
}

// CallLog looks up one call by unique id.
func (c *Client) CallLog(ctx context.Context, uniqueID string) (backend.CallLog, error) {
	var resp callLogResponse
	if err := c.do(ctx, http.MethodGet, "/logs/"+escape(uniqueID), nil, nil, &resp); err != nil {
		return backend.CallLog{}, err
	}
	log := resp.toBackend()
	if log.UniqueID == "" {
		log.UniqueID = uniqueID
	}
	return log, nil
}

// MergedCalls pages through merged call records.
func (c *Client) MergedCalls(ctx context.Context, q backend.PageQuery) (backend.CallPage, error) {
	var resp callPageResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(q.CampaignID)+"/merged-calls", pageValues(q.RunID, q.Page, q.Limit), nil, &resp); err != nil {
		return backend.CallPage{}, err
	}
	return resp.toBackend(), nil
}

// CallLogsDashboard pages through the dashboard call log view.
func (c *Client) CallLogsDashboard(ctx context.Context, q backend.PageQuery) (backend.CallPage, error) {
	var resp callPageResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(q.CampaignID)+"/call-logs-dashboard", pageValues(q.RunID, q.Page, q.Limit), nil, &resp); err != nil {
		return backend.CallPage{}, err
	}
	return resp.toBackend(), nil
}

// Transcript fetches a transcript document.
func (c *Client) Transcript(ctx context.Context, documentID string) (backend.Transcript, error) {
	var resp transcriptResponse
	if err := c.do(ctx, http.MethodGet, "/transcripts/"+escape(documentID), nil, nil, &resp); err != nil {
		return backend.Transcript{}, err
	}
	return backend.Transcript{DocumentID: documentID, Text: resp.Transcript}, nil
}

// SaveRun stores a run summary in run history.
func (c *Client) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	return c.do(ctx, http.MethodPost, "/campaigns/"+escape(rec.CampaignID)+"/run-history", nil, toRunRecordPayload(rec), nil)
}

// RunHistory lists saved run summaries.
func (c *Client) RunHistory(ctx context.Context, campaignID string) ([]domain.RunRecord, error) {
	var resp runHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(campaignID)+"/run-history", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.RunRecord, 0, len(resp.Runs))
	for _, r := range resp.Runs {
		out = append(out, r.toDomain(campaignID))
	}
	return out, nil
}

// Campaign fetches campaign metadata.
func (c *Client) Campaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	var resp campaignResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(campaignID), nil, nil, &resp); err != nil {
		return domain.Campaign{}, err
	}
	id := resp.ID
	if id == "" {
		id = campaignID
	}
	return domain.Campaign{
		ID:       id,
		Name:     resp.Name,
		GroupIDs: resp.GroupIDs,
		AgentIDs: resp.AgentIDs,
		IsActive: resp.IsActive,
	}, nil
}

// Groups lists the groups assigned to a campaign.
func (c *Client) Groups(ctx context.Context, campaignID string) ([]domain.Group, error) {
	var resp groupsResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(campaignID)+"/groups", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Group, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		out = append(out, domain.Group{ID: g.ID, Name: g.Name, ContactCount: g.ContactCount})
	}
	return out, nil
}

// GroupContacts lists a group's contacts.
func (c *Client) GroupContacts(ctx context.Context, groupID string) ([]domain.Contact, error) {
	var resp contactsResponse
	if err := c.do(ctx, http.MethodGet, "/groups/"+escape(groupID)+"/contacts", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(resp.Contacts))
	for _, ct := range resp.Contacts {
		out = append(out, ct.toDomain())
	}
	return out, nil
}

// Agents lists the agents assigned to a campaign.
func (c *Client) Agents(ctx context.Context, campaignID string) ([]domain.Agent, error) {
	var resp agentsResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns/"+escape(campaignID)+"/agents", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Agent, 0, len(resp.Agents))
	for _, a := range resp.Agents {
		out = append(out, domain.Agent{ID: a.ID, Name: a.Name})
	}
	return out, nil
}
