package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/campaign-dialer/internal/domain"
	callsvc "github.com/acme/campaign-dialer/internal/service/call"
)

type triggerCallRequest struct {
	CampaignID string `json:"campaign_id"`
	AgentID    string `json:"agent_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
}

type triggerBatchRequest struct {
	AgentID  string           `json:"agent_id"`
	Contacts []domain.Contact `json:"contacts"`
}

type callResponse struct {
	Success  bool   `json:"success"`
	UniqueID string `json:"unique_id"`
	Message  string `json:"message,omitempty"`
}

type batchResponse struct {
	Success  bool   `json:"success"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

func (h *HandlerSet) triggerCall(ctx *fiber.Ctx) error {
	var req triggerCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.calls.TriggerCall(ctx.UserContext(), callsvc.TriggerCallInput{
		CampaignID: req.CampaignID,
		AgentID:    req.AgentID,
		Name:       req.Name,
		Phone:      req.Phone,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(callResponse{Success: res.Success, UniqueID: res.UniqueID, Message: res.Message})
}

func (h *HandlerSet) triggerBatch(ctx *fiber.Ctx) error {
	var req triggerBatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.calls.TriggerBatch(ctx.UserContext(), callsvc.TriggerBatchInput{
		CampaignID: ctx.Params("id"),
		AgentID:    req.AgentID,
		Contacts:   req.Contacts,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(batchResponse{Success: res.Success, Accepted: res.Accepted, Message: res.Message})
}
