package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"slackflow/internal/components"
	"slackflow/internal/domain"
	"slackflow/internal/flow"
	"slackflow/internal/infra/config"
	"slackflow/internal/infra/logger"
	"slackflow/internal/infra/tracer"
	"slackflow/internal/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`slackflow - Slack connector daemon

USAGE:
    slackflow [FLAGS]

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: SLACKFLOW_* variables override config
    Tokens:      SLACKFLOW_SLACK_BOT_TOKEN (xoxb-...)
                 SLACKFLOW_SLACK_APP_TOKEN (xapp-...)`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SLACKFLOW_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Broker
	broker := flow.NewBroker(log)
	defer broker.Close()

	// 4. Session store
	sessions, err := session.Open(cfg.Session.Path)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessions.Close()

	// 5. Slack connection and components
	conn, err := components.Dial(ctx, cfg.Slack, log)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}

	var feedback *components.Feedback
	if cfg.Feedback.Enabled {
		feedback = components.NewFeedback(conn, cfg.Feedback, broker, log)
	}

	output, err := components.NewOutput(conn, cfg.Slack, cfg.Feedback.Enabled, broker, log)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	input := components.NewInput(conn, cfg.Slack, sessions, feedback, broker, log)

	// 6. Maintenance scheduler
	sched := flow.NewScheduler(log)
	if err := sched.Add(flow.MaintenanceTask{
		Name:     "session-reap",
		Schedule: cfg.Session.ReapSchedule,
		Run: func(ctx context.Context) error {
			n, err := sessions.Reap(ctx, int64(cfg.Session.TTL.Seconds()))
			if n > 0 {
				log.Info("reaped idle sessions", "count", n)
			}
			return err
		},
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := sched.Add(flow.MaintenanceTask{
		Name:     "stream-sweep",
		Schedule: cfg.Stream.SweepSchedule,
		Run: func(context.Context) error {
			output.SweepStreams(cfg.Stream.MaxAge)
			return nil
		},
	}); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// 7. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	log.Info("slackflow starting",
		"share_connection", cfg.Slack.ShareConnection,
		"mention_only", cfg.Slack.MentionOnly,
		"channels", len(cfg.Slack.ChannelIDs),
		"feedback", cfg.Feedback.Enabled,
	)

	// 8. Start the input with the loopback flow
	if err := input.Start(ctx, loopbackFlow(output)); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := input.Stop(shutdownCtx); err != nil {
		log.Error("input stop error", "error", err)
	}
	if err := output.Stop(shutdownCtx); err != nil {
		log.Error("output stop error", "error", err)
	}
	log.Info("slackflow stopped")
	return nil
}

// loopbackFlow routes every inbound message straight back through the
// output. It keeps the daemon useful on its own; deployments with an
// upstream flow replace this handler with their own routing.
func loopbackFlow(output domain.Output) domain.MessageHandler {
	return func(ctx context.Context, msg domain.Message) error {
		reply := domain.Message{
			Info: domain.MessageInfo{
				Channel:   msg.Info.Channel,
				TS:        msg.Info.TS,
				AckTS:     msg.Info.AckTS,
				SessionID: msg.Info.SessionID,
			},
			Content:       domain.Content{Text: msg.Content.Text},
			CorrelationID: msg.CorrelationID,
		}
		return output.Send(ctx, reply)
	}
}
