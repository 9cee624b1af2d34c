package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/orchestrator"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

type agentRequest struct {
	AgentID string `json:"agent_id"`
}

type listSessionsResponse struct {
	Campaigns []string `json:"campaigns"`
}

type viewedTranscriptsResponse struct {
	DocumentIDs []string `json:"document_ids"`
}

type liveTranscriptResponse struct {
	UniqueID string                  `json:"unique_id"`
	Lines    []domain.TranscriptLine `json:"lines"`
}

type runHistoryResponse struct {
	Source string             `json:"source"`
	Runs   []domain.RunRecord `json:"runs"`
}

type listAttemptsResponse struct {
	Attempts []domain.CallAttempt `json:"attempts"`
	NextPage string               `json:"next_page_token,omitempty"`
}

// session returns the campaign's session, opening it on first use.
func (h *HandlerSet) session(ctx *fiber.Ctx) (*orchestrator.Session, error) {
	id := ctx.Params("id")
	if id == "" {
		return nil, fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	s, err := h.sessions.Open(ctx.UserContext(), id)
	if err != nil {
		return nil, translateError(err)
	}
	return s, nil
}

func (h *HandlerSet) listSessions(ctx *fiber.Ctx) error {
	return ctx.Status(http.StatusOK).JSON(listSessionsResponse{Campaigns: h.sessions.Sessions()})
}

func (h *HandlerSet) openSession(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	return ctx.Status(http.StatusOK).JSON(s.Snapshot())
}

func (h *HandlerSet) closeSession(ctx *fiber.Ctx) error {
	if err := h.sessions.Close(ctx.Params("id")); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	return ctx.Status(http.StatusOK).JSON(s.Snapshot())
}

func (h *HandlerSet) refreshCampaign(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	if err := s.RefreshCampaign(ctx.UserContext()); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(s.Snapshot())
}

func (h *HandlerSet) selectAgent(ctx *fiber.Ctx) error {
	var req agentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	if err := s.SelectAgent(req.AgentID); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(s.Snapshot())
}

func (h *HandlerSet) startRun(ctx *fiber.Ctx) error {
	var req agentRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	if err := s.Start(ctx.UserContext(), req.AgentID); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusAccepted).JSON(s.Snapshot())
}

func (h *HandlerSet) pauseRun(ctx *fiber.Ctx) error {
	return h.runAction(ctx, (*orchestrator.Session).Pause)
}

func (h *HandlerSet) resumeRun(ctx *fiber.Ctx) error {
	return h.runAction(ctx, (*orchestrator.Session).Resume)
}

func (h *HandlerSet) stopRun(ctx *fiber.Ctx) error {
	return h.runAction(ctx, (*orchestrator.Session).Stop)
}

func (h *HandlerSet) resetRun(ctx *fiber.Ctx) error {
	return h.runAction(ctx, (*orchestrator.Session).Reset)
}

func (h *HandlerSet) runAction(ctx *fiber.Ctx, action func(*orchestrator.Session, context.Context) error) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	if err := action(s, ctx.UserContext()); err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(s.Snapshot())
}

func (h *HandlerSet) clearNotice(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	s.ClearNotice()
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	refresh := ctx.QueryBool("refresh", false)
	view, err := s.Results(ctx.UserContext(), ctx.Query("view", orchestrator.ViewMergedCalls), refresh)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(view)
}

func (h *HandlerSet) loadMoreCalls(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	view, err := s.LoadMore(ctx.UserContext(), ctx.Query("view", orchestrator.ViewMergedCalls))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(view)
}

func (h *HandlerSet) getTranscript(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	doc := ctx.Params("documentId")
	if doc == "" {
		return fiber.NewError(http.StatusBadRequest, "invalid document id")
	}
	return ctx.Status(http.StatusOK).JSON(s.Transcript(ctx.UserContext(), doc))
}

func (h *HandlerSet) viewedTranscripts(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	viewed, err := s.ViewedTranscripts(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	resp := viewedTranscriptsResponse{DocumentIDs: make([]string, 0, len(viewed))}
	for id := range viewed {
		resp.DocumentIDs = append(resp.DocumentIDs, id)
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) liveTranscript(ctx *fiber.Ctx) error {
	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	uid := ctx.Params("uniqueId")
	lines, ok := s.LiveTranscript(uid)
	if !ok {
		return translateError(fmt.Errorf("%w: call %s is not tracked", apperrors.ErrNotFound, uid))
	}
	return ctx.Status(http.StatusOK).JSON(liveTranscriptResponse{UniqueID: uid, Lines: lines})
}

func (h *HandlerSet) runHistory(ctx *fiber.Ctx) error {
	if ctx.Query("source") == "archive" {
		if h.archive == nil {
			return translateError(fmt.Errorf("%w: run archive is not configured", apperrors.ErrUnavailable))
		}
		limit, _ := strconv.Atoi(ctx.Query("limit", "20"))
		runs, err := h.archive.ListRecent(ctx.UserContext(), ctx.Params("id"), limit)
		if err != nil {
			return translateError(err)
		}
		return ctx.Status(http.StatusOK).JSON(runHistoryResponse{Source: "archive", Runs: nonNilRuns(runs)})
	}

	s, err := h.session(ctx)
	if err != nil {
		return err
	}
	runs, err := s.History(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(runHistoryResponse{Source: "backend", Runs: nonNilRuns(runs)})
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	result, err := h.calls.ListAttempts(ctx.UserContext(), ctx.Params("id"), ctx.Params("runId"), limit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(listAttemptsResponse{Attempts: result.Attempts, NextPage: result.NextPage})
}

func nonNilRuns(runs []domain.RunRecord) []domain.RunRecord {
	if runs == nil {
		return []domain.RunRecord{}
	}
	return runs
}
