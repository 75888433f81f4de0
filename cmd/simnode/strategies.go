package main

import (
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/params"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
	"github.com/uhyunpark/marketsim/pkg/app/strategy"
)

// buildStrategies turns validated scenario entries into strategies. Zero
// tuning fields keep each strategy's defaults.
func buildStrategies(specs []params.StrategySpec, logger *zap.Logger) []sim.Strategy {
	out := make([]sim.Strategy, 0, len(specs))
	for _, sp := range specs {
		switch sp.Name {
		case "momentum":
			out = append(out, strategy.NewMomentum(strategy.MomentumConfig{
				Threshold: sp.Threshold,
				Quantity:  sp.Quantity,
				Symbols:   sp.Symbols,
			}, logger))
		case "mean_reversion":
			cfg := strategy.DefaultMeanReversionConfig()
			cfg.Symbols = sp.Symbols
			if sp.Period > 0 {
				cfg.Period = sp.Period
			}
			if sp.Oversold > 0 {
				cfg.Oversold = sp.Oversold
			}
			if sp.Overbought > 0 {
				cfg.Overbought = sp.Overbought
			}
			if sp.Quantity > 0 {
				cfg.Quantity = sp.Quantity
			}
			out = append(out, strategy.NewMeanReversion(cfg, logger))
		case "trend_follow":
			out = append(out, strategy.NewTrendFollow(strategy.TrendFollowConfig{
				FastPeriod: sp.FastPeriod,
				SlowPeriod: sp.SlowPeriod,
				Quantity:   sp.Quantity,
				Symbols:    sp.Symbols,
			}, logger))
		}
	}
	return out
}
