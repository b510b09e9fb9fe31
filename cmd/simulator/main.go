package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qalam/internal/utils"
	"qalam/simulator"
)

func main() {
	_ = godotenv.Load()
	logger := utils.NewLogger(os.Stdout, os.Getenv("DEBUG") == "true")

	config := simulator.DefaultSimConfig()
	if url := os.Getenv("SIM_BASE_URL"); url != "" {
		config.BaseURL = url
	}
	config.AdminToken = os.Getenv("SIM_ADMIN_TOKEN")
	if n, err := strconv.Atoi(os.Getenv("SIM_USERS")); err == nil && n > 0 {
		config.NumUsers = n
	}
	if d, err := time.ParseDuration(os.Getenv("SIM_DURATION")); err == nil && d > 0 {
		config.SimulationTime = d
	}

	logger.Info("simulation configuration",
		"base_url", config.BaseURL,
		"users", config.NumUsers,
		"categories", config.NumCategories,
		"duration", config.SimulationTime,
		"posts_per_user_hour", config.PostFrequency,
		"comments_per_user_hour", config.CommentFrequency,
		"likes_per_user_hour", config.LikeFrequency,
		"follows_per_user_hour", config.FollowFrequency,
		"zipf", config.ZipfS,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.SimulationTime)
	defer cancel()

	sim := simulator.NewEnhancedSimulator(config, logger)
	if err := sim.Run(ctx); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	m := sim.GetMetrics()
	logger.Info("simulation completed",
		"elapsed", m.Elapsed.Round(time.Second),
		"users", m.TotalUsers,
		"posts", m.TotalPosts,
		"comments", m.TotalComments,
		"likes", m.TotalLikes,
		"follows", m.TotalFollows,
		"requests", m.TotalRequests,
		"failed", m.FailedRequests,
		"avg_latency", m.AverageLatency,
		"p95_latency", m.P95Latency,
	)
}
