package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"devsquad-chat/internal/utils"
	"devsquad-chat/simulator"

	"github.com/joho/godotenv"
)

func main() {
	// Share the server's .env so the minted tokens verify.
	_ = godotenv.Load()
	logger := utils.NewLogger(os.Stdout, os.Getenv("DEBUG") == "true", false)

	config := simulator.DefaultSimConfig()
	config.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if url := os.Getenv("SIM_SERVER_URL"); url != "" {
		config.ServerURL = url
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := simulator.NewSimulator(config, logger)
	if err := sim.Run(ctx); err != nil {
		logger.Error("Simulation failed", "error", err)
		os.Exit(1)
	}

	m := sim.GetMetrics()
	logger.Info("Simulation completed",
		"elapsed", m.Elapsed,
		"requests", m.TotalRequests,
		"failed_requests", m.FailedRequests,
		"avg_latency", m.AverageLatency,
		"chats_opened", m.ChatsOpened,
		"chats_hidden", m.ChatsHidden,
		"messages_sent", m.MessagesSent,
		"messages_acked", m.MessagesAcked,
		"messages_received", m.MessagesReceived,
		"rejected", m.RejectedSends)
}
