// Package report renders the plain-text summaries printed by the demo and
// logged by the node.
package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
)

// money renders v rounded half away from zero to two places.
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// signed is money with a leading plus for non-negative values.
func signed(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

func MarketSummary(quotes []market.Quote) string {
	var b strings.Builder
	b.WriteString("=== Market Summary ===\n")
	for _, q := range quotes {
		fmt.Fprintf(&b, "%s: $%s (Daily Return: %s%%, Volatility: %s%%)\n",
			q.Symbol, money(q.Price), signed(q.DailyReturn), money(q.Volatility*100))
	}
	b.WriteString("=====================\n")
	return b.String()
}

func PortfolioSummary(s account.Snapshot) string {
	var b strings.Builder
	b.WriteString("=== Portfolio Summary ===\n")
	fmt.Fprintf(&b, "Cash: $%s\n", money(s.Cash))
	fmt.Fprintf(&b, "Total Portfolio Value: $%s\n", money(s.TotalValue))
	fmt.Fprintf(&b, "Total P&L: $%s\n", money(s.TotalPnL))
	if s.ClosedPnL != 0 {
		fmt.Fprintf(&b, "Closed P&L: $%s\n", money(s.ClosedPnL))
	}
	fmt.Fprintf(&b, "Portfolio Return: %s%%\n", money(s.PortfolioReturn))

	if len(s.Positions) > 0 {
		b.WriteString("\nCurrent Positions:\n")
		for _, p := range s.Positions {
			fmt.Fprintf(&b, "%s: %s shares @ $%s (Unrealized P&L: $%s)\n",
				p.Symbol, money(p.Quantity), money(p.AverageCost), money(p.UnrealizedPnL))
		}
	}
	b.WriteString("========================\n")
	return b.String()
}

func TradingStats(st engine.Stats) string {
	var b strings.Builder
	b.WriteString("=== Trading Statistics ===\n")
	fmt.Fprintf(&b, "Total Executed Orders: %d\n", st.Executed)
	fmt.Fprintf(&b, "Pending Orders: %d\n", st.Pending)
	if st.Executed > 0 {
		fmt.Fprintf(&b, "Buy Orders: %d\n", st.BuyOrders)
		fmt.Fprintf(&b, "Sell Orders: %d\n", st.SellOrders)
		fmt.Fprintf(&b, "Total Trading Volume: $%s\n", money(st.TotalVolume))
		fmt.Fprintf(&b, "Average Order Value: $%s\n", money(st.AverageOrderValue))
	}
	b.WriteString("==========================\n")
	return b.String()
}
