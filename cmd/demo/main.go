package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
	"github.com/uhyunpark/marketsim/pkg/app/strategy"
	"github.com/uhyunpark/marketsim/pkg/report"
	"github.com/uhyunpark/marketsim/pkg/util"
)

func main() {
	seed := flag.Int64("seed", 0, "price path seed (0 seeds from the clock)")
	delay := flag.Duration("delay", 100*time.Millisecond, "pause between momentum days")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := util.NewLogger(*level)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println("=== Trading Simulation ===")

	demos := []func(int64, time.Duration, *zap.Logger) error{
		basicTrading,
		momentumTrading,
		orderManagement,
	}
	for i, demo := range demos {
		if i > 0 {
			fmt.Println("\n" + strings.Repeat("=", 60))
		}
		if err := demo(*seed, *delay, logger); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("\n=== Simulation Complete ===")
	fmt.Println("All trading scenarios executed successfully!")
}

type symbolSpec struct {
	symbol string
	price  float64
	vol    float64
}

func newSimulator(cash float64, seed int64, tick time.Duration, logger *zap.Logger, symbols ...symbolSpec) (*sim.Simulator, error) {
	s, err := sim.New(sim.Config{InitialCash: cash, Seed: seed, TickInterval: tick}, logger)
	if err != nil {
		return nil, err
	}
	for _, sp := range symbols {
		if err := s.RegisterSymbol(sp.symbol, sp.price, sp.vol); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// printer writes fills to stdout as they happen.
type printer struct {
	sim.NopListener
}

func (printer) OnOrderExecuted(o order.Order, price, quantity float64) {
	fmt.Printf("Executed: %s %s %.2f @ $%.2f\n", o.Side, o.Symbol, quantity, price)
}

func (printer) OnOrderFailed(o order.Order, reason string) {
	fmt.Printf("Order failed: %s %s %.2f (%s)\n", o.Side, o.Symbol, o.Quantity, reason)
}

func basicTrading(seed int64, _ time.Duration, logger *zap.Logger) error {
	fmt.Println("\n=== Basic Trading Demonstration ===")

	s, err := newSimulator(100000, seed, 0, logger,
		symbolSpec{"AAPL", 150, 0.02},
		symbolSpec{"GOOGL", 2800, 0.025},
		symbolSpec{"MSFT", 300, 0.018},
		symbolSpec{"TSLA", 800, 0.04},
	)
	if err != nil {
		return err
	}
	defer s.Close()
	s.RegisterListener(printer{})

	fmt.Println("Initial market state:")
	fmt.Print(report.MarketSummary(s.Quotes()))
	fmt.Println("Initial portfolio state:")
	fmt.Print(report.PortfolioSummary(s.Portfolio()))

	fmt.Println("Executing market orders...")
	s.ExecuteMarketOrder("AAPL", order.Buy, 100)
	s.ExecuteMarketOrder("GOOGL", order.Buy, 10)
	s.ExecuteMarketOrder("MSFT", order.Buy, 50)

	fmt.Println("\nSubmitting limit orders...")
	s.ExecuteLimitOrder("TSLA", order.Buy, 25, 790)  // fills once TSLA trades at or under $790
	s.ExecuteLimitOrder("AAPL", order.Sell, 50, 155) // fills once AAPL trades at or over $155

	if _, err := s.RunSimulation(context.Background(), 20); err != nil {
		return err
	}
	printSummaries(s)
	return nil
}

func momentumTrading(seed int64, delay time.Duration, logger *zap.Logger) error {
	fmt.Println("\n=== Advanced Trading Strategies ===")

	s, err := newSimulator(50000, seed, delay, logger,
		symbolSpec{"SPY", 400, 0.015},
		symbolSpec{"QQQ", 350, 0.02},
		symbolSpec{"AMD", 80, 0.035},
	)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("Implementing momentum trading strategy...")
	mom := strategy.NewMomentum(strategy.MomentumConfig{Threshold: 2, Quantity: 10}, logger)
	s.AddStrategy(mom)
	s.RegisterListener(&dayReporter{sim: s, every: 10})
	s.RegisterListener(printer{})

	if _, err := s.RunSimulation(context.Background(), 30); err != nil {
		return err
	}
	buys, sells, misses := mom.Signals()
	fmt.Printf("Momentum signals: %d buys, %d sells, %d skipped\n", buys, sells, misses)
	fmt.Print(report.TradingStats(s.Stats()))
	return nil
}

// dayReporter prints market and portfolio summaries every few steps. It
// runs after the simulator lock is released, so it may query the simulator.
type dayReporter struct {
	sim.NopListener
	sim   *sim.Simulator
	every int
}

func (d *dayReporter) OnStep(step int, quotes []market.Quote) {
	if step%d.every != 0 {
		return
	}
	fmt.Printf("\n--- Day %d Status ---\n", step)
	fmt.Print(report.MarketSummary(quotes))
	fmt.Print(report.PortfolioSummary(d.sim.Portfolio()))
}

func orderManagement(seed int64, _ time.Duration, logger *zap.Logger) error {
	fmt.Println("\n=== Order Management Demo ===")

	s, err := newSimulator(25000, seed, 0, logger, symbolSpec{"NVDA", 500, 0.03})
	if err != nil {
		return err
	}
	defer s.Close()

	for _, lim := range []struct{ qty, price float64 }{{20, 495}, {15, 490}, {10, 485}} {
		if _, err := s.ExecuteLimitOrder("NVDA", order.Buy, lim.qty, lim.price); err != nil {
			fmt.Printf("Limit order rejected: %v\n", err)
		}
	}

	fmt.Println("Submitted 3 limit buy orders for NVDA")
	fmt.Printf("Pending orders: %d\n", s.PendingOrderCount())

	fmt.Println("\nRunning simulation to fill orders...")
	if _, err := s.RunSimulation(context.Background(), 15); err != nil {
		return err
	}

	fmt.Printf("Final pending orders: %d\n", s.PendingOrderCount())
	fmt.Printf("Executed orders: %d\n", len(s.ExecutedOrders()))
	printSummaries(s)
	return nil
}

func printSummaries(s *sim.Simulator) {
	fmt.Print(report.MarketSummary(s.Quotes()))
	fmt.Print(report.PortfolioSummary(s.Portfolio()))
	fmt.Print(report.TradingStats(s.Stats()))
}
