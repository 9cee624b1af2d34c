package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/app"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/telemetry"
)

// dialer runs one campaign headless: it opens the campaign, starts or
// resumes its run and exits once the run history is saved.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	campaignID := flag.String("campaign", getEnv("CAMPAIGN_ID", "demo"), "campaign to dial")
	agentID := flag.String("agent", getEnv("AGENT_ID", ""), "agent placing the calls; defaults to the campaign's first agent")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-dialer", container.Config.App.Version)
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	lg := container.Logger.Named("dialer_cli").With(zap.String("campaign_id", *campaignID))

	session, err := container.Services().Sessions.Open(ctx, *campaignID)
	if err != nil {
		log.Fatalf("failed to open campaign: %v", err)
	}

	view := session.Snapshot()
	agent := *agentID
	if agent == "" && len(view.Agents) > 0 {
		agent = view.Agents[0].ID
	}

	switch view.Status {
	case domain.CallingStatusIdle:
		if err := session.Start(ctx, agent); err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
	case domain.CallingStatusPaused:
		if err := session.Resume(ctx); err != nil {
			log.Fatalf("failed to resume run: %v", err)
		}
	}

	runID := session.Snapshot().RunID
	lg.Info("run in progress", zap.String("run_id", runID), zap.String("agent_id", agent))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastIndex := -1
	for {
		select {
		case <-ctx.Done():
			lg.Info("interrupted; run state is kept for the next start")
			return
		case <-ticker.C:
		}

		v := session.Snapshot()
		if v.CurrentIndex != lastIndex {
			lastIndex = v.CurrentIndex
			lg.Info("progress",
				zap.String("status", string(v.Status)),
				zap.Int("current_index", v.CurrentIndex),
				zap.Int("total_contacts", v.TotalContacts),
				zap.Int("live_trackers", v.LiveTrackers),
			)
		}
		if v.Notice != nil {
			lg.Warn("run needs attention", zap.String("notice", string(v.Notice.Kind)), zap.String("message", v.Notice.Message))
			return
		}
		if v.Status == domain.CallingStatusIdle && v.ReadyForNextRun {
			break
		}
	}

	runs, err := session.History(ctx)
	if err != nil {
		lg.Warn("run saved but history lookup failed", zap.Error(err))
		return
	}
	for _, r := range runs {
		if r.RunID != runID {
			continue
		}
		lg.Info("run saved",
			zap.String("run_id", r.RunID),
			zap.String("status", string(r.Status)),
			zap.Int("total_contacts", r.Stats.TotalContacts),
			zap.Int("successful_calls", r.Stats.SuccessfulCalls),
			zap.Int("failed_calls", r.Stats.FailedCalls),
			zap.Duration("total_call_duration", r.Stats.TotalCallDuration),
		)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
