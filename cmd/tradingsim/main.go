// tradingsim is a minimal simulate-style harness for TradingVecEnv: it
// loads broker config, connects a TradingMarket, and drives a fixed
// number of random-policy steps while reporting reward and fps.
//
// This is deliberately not an RLlib/SB3 training loop — just enough to
// exercise Reset/Step against a real (or paper) broker connection and
// prove the wiring holds end to end.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccnets-team/tradingcore/internal/account"
	"github.com/ccnets-team/tradingcore/internal/config"
	"github.com/ccnets-team/tradingcore/internal/market"
	"github.com/ccnets-team/tradingcore/internal/vecenv"
	"github.com/ccnets-team/tradingcore/pkg/types"
)

// harnessConfig carries the harness-only knobs — num_envs, total_steps,
// fps_interval — which are runner concerns, not core trading logic. They
// take the values from defaultHarnessConfig; they are not read from the
// config file or the environment.
type harnessConfig struct {
	NumEnvs     int `mapstructure:"num_envs"`
	TotalSteps  int `mapstructure:"total_steps"`
	FPSInterval int `mapstructure:"fps_interval"`
}

func defaultHarnessConfig() harnessConfig {
	return harnessConfig{NumEnvs: 4, TotalSteps: 1000, FPSInterval: 100}
}

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADINGCORE_CONFIG"); p != "" {
		cfgPath = p
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	hc := defaultHarnessConfig()

	seedSymbols := []string{"AAPL", "MSFT", "AMZN", "GOOGL"}
	m, err := market.NewTradingMarket(*cfg, seedSymbols)
	if err != nil {
		logger.Error("failed to build trading market", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		logger.Error("failed to connect trading market", "error", err)
		os.Exit(1)
	}

	env := vecenv.New(m, vecenv.Config{
		NumEnvs:        hc.NumEnvs,
		NumStocksRange: account.Range[int64]{Min: 0, Max: 5},
		BudgetRange:    account.Range[float64]{Min: 1000, Max: 5000},
		MaxStepRange:   account.Range[int64]{Min: 500, Max: 2000},
	})

	logger.Info("tradingsim starting",
		"broker", cfg.Broker,
		"trade_mode", cfg.TradeMode,
		"num_envs", hc.NumEnvs,
		"total_steps", hc.TotalSteps,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if _, err := env.Reset(ctx); err != nil {
		logger.Error("reset failed", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	var totalReward float32

	for step := 1; step <= hc.TotalSteps; step++ {
		if ctx.Err() != nil {
			break
		}

		action := make([]int32, hc.NumEnvs)
		for i := range action {
			action[i] = int32(rng.Intn(3))
		}

		_, reward, terminated, truncated, err := env.Step(ctx, action)
		if err != nil {
			logger.Warn("step failed", "error", err, "step", step)
			continue
		}

		for _, r := range reward {
			totalReward += r
		}
		_ = terminated
		_ = truncated

		if hc.FPSInterval > 0 && step%hc.FPSInterval == 0 {
			elapsed := time.Since(start).Seconds()
			logger.Info("progress",
				"step", step,
				"fps", float64(step)/elapsed,
				"total_reward", totalReward,
			)
		}
	}

	logger.Info("tradingsim finished", "total_reward", totalReward)

	if cfg.TradeMode != types.ModeLocal {
		if err := env.Close(ctx); err != nil {
			logger.Error("failed to close environment", "error", err)
		}
	}
}
