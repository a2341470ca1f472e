package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/signal-trader/internal/decision"
	"github.com/Rajchodisetti/signal-trader/internal/portfolio"
	"github.com/Rajchodisetti/signal-trader/internal/signals"
)

var day1 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func limits() Limits {
	return Limits{MaxDailyTrades: 3, MaxDailyLossFraction: 0.05, MaxPositionFraction: 0.2, MinConfidence: 0.5}
}

func buy(sym string, price float64) decision.TradeDecision {
	return decision.TradeDecision{Symbol: sym, Action: signals.Buy, Price: price, Confidence: 0.8, Source: decision.SourceEnsemble}
}

func sell(sym string, price float64) decision.TradeDecision {
	return decision.TradeDecision{Symbol: sym, Action: signals.Sell, Price: price, Confidence: 0.8, Source: decision.SourceEnsemble}
}

func TestGate_DailyLossAtLimitBlocksBuyButAllowsSell(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)

	v := g.Check(buy("AAPL", 10), Account{Cash: 900, Value: 960}, day1)
	assert.True(t, v.Approved)
	assert.Equal(t, StateOpen, g.State())

	// exactly -5% of initial capital
	v = g.Check(buy("AAPL", 10), Account{Cash: 900, Value: 950}, day1)
	assert.False(t, v.Approved)
	assert.Equal(t, "circuit_breaker", v.Rule)
	assert.Equal(t, ReasonDailyLossLimit, v.Reason)
	assert.Equal(t, StateBlocked, g.State())

	v = g.Check(sell("AAPL", 10), Account{Cash: 900, Value: 950, HeldShares: 5}, day1)
	assert.True(t, v.Approved, "sells reduce risk and stay allowed")

	// latched for the rest of the day even if value recovers
	v = g.Check(buy("AAPL", 10), Account{Cash: 900, Value: 1000}, day1.Add(time.Hour))
	assert.False(t, v.Approved)
}

func TestGate_TradeLimitThrottlesAllOrders(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)
	acct := Account{Cash: 1000, Value: 1000, HeldShares: 10}

	for i := 0; i < 3; i++ {
		require.True(t, g.Check(buy("AAPL", 10), acct, day1).Approved)
		g.RecordTrade(day1)
	}
	assert.Equal(t, StateThrottled, g.State())

	v := g.Check(buy("AAPL", 10), acct, day1)
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonDailyTradeLimit, v.Reason)

	v = g.Check(sell("AAPL", 10), acct, day1)
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonDailyTradeLimit, v.Reason)

	assert.Equal(t, 2, g.Status().Rejections["daily_trades"])
}

func TestGate_BlockedWinsOverThrottled(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)
	for i := 0; i < 3; i++ {
		g.RecordTrade(day1)
	}
	assert.Equal(t, StateThrottled, g.Mark(1000, day1))
	assert.Equal(t, StateBlocked, g.Mark(900, day1))
}

func TestGate_NewDayResetsToOpen(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)
	for i := 0; i < 3; i++ {
		g.RecordTrade(day1)
	}
	g.Mark(940, day1)
	require.Equal(t, StateBlocked, g.State())

	next := day1.Add(24 * time.Hour)
	v := g.Check(buy("AAPL", 10), Account{Cash: 500, Value: 940}, next)
	assert.True(t, v.Approved)
	st := g.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 0, st.Trades)
	assert.Equal(t, 940.0, st.StartValue, "new day measures loss from its own opening value")
	assert.Equal(t, "2026-03-03", st.Date)
}

func TestGate_UnanchoredDayOpensAtFirstValuation(t *testing.T) {
	g := NewGate(limits(), time.UTC, 0)

	assert.Equal(t, StateOpen, g.Mark(0, day1), "an unknown valuation does not anchor the day")
	assert.False(t, g.Status().Anchored)

	// yesterday's 5% loss against cost basis is not today's loss
	assert.Equal(t, StateOpen, g.Mark(950, day1))
	st := g.Status()
	assert.True(t, st.Anchored)
	assert.Equal(t, 950.0, st.StartValue)
	assert.Equal(t, 0.0, st.DailyReturn)
	assert.True(t, g.Check(buy("AAPL", 10), Account{Cash: 500, Value: 950}, day1).Approved)

	assert.Equal(t, StateBlocked, g.Mark(902.5, day1))
}

func TestGate_ZeroValueKeepsLastMark(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)
	g.Mark(980, day1)
	g.Mark(0, day1)
	assert.Equal(t, 980.0, g.Status().LastValue)

	sum, ok := g.ResetDay(day1.Add(24*time.Hour), 0)
	require.True(t, ok)
	assert.InDelta(t, -0.02, sum.DailyReturn, 1e-12)
	assert.False(t, g.Status().Anchored, "a new day opened without a valuation waits for one")
}

func TestGate_ResetDayReturnsSummary(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)
	g.Check(buy("AAPL", 10), Account{Cash: 1000, Value: 1000}, day1)
	g.RecordTrade(day1)
	g.Check(buy("AAPL", 10), Account{Cash: 1, Value: 1020}, day1)

	_, ok := g.ResetDay(day1, 1020)
	assert.False(t, ok, "same date is a no-op")
	assert.Equal(t, 1, g.Status().Trades)

	sum, ok := g.ResetDay(day1.Add(9*time.Hour), 1020)
	require.True(t, ok)
	assert.Equal(t, "2026-03-02", sum.Date)
	assert.Equal(t, 1, sum.Trades)
	assert.Equal(t, 1, sum.Rejections)
	assert.InDelta(t, 0.02, sum.DailyReturn, 1e-12)
	assert.Equal(t, StateOpen, sum.FinalState)

	assert.Equal(t, 0, g.Status().Trades)
	assert.Equal(t, "2026-03-03", g.Status().Date)
}

func TestGate_DayBoundaryFollowsSessionTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	g := NewGate(limits(), ny, 1000)

	// 23:00 and 03:00 UTC fall on the same New York date
	g.Mark(1000, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	g.RecordTrade(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))
	g.Mark(1000, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, g.Status().Trades)
}

func TestGate_Availability(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000)

	v := g.Check(buy("AAPL", 100), Account{Cash: 50, Value: 1000}, day1)
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonNoCash, v.Reason)

	v = g.Check(sell("AAPL", 100), Account{Cash: 1000, Value: 1000}, day1)
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonNoPosition, v.Reason)
}

type denyAll struct{}

func (denyAll) Name() string  { return "deny_all" }
func (denyAll) Priority() int { return 0 }
func (denyAll) Evaluate(decision.TradeDecision, Account, DayState) (bool, string) {
	return false, "maintenance"
}

func TestGate_ExtraRulesRunInPriorityOrder(t *testing.T) {
	g := NewGate(limits(), time.UTC, 1000, denyAll{})
	g.Mark(900, day1)

	v := g.Check(buy("AAPL", 10), Account{Cash: 1000, Value: 900}, day1)
	assert.Equal(t, "deny_all", v.Rule)
}

func TestSizer_EndToEndScenario(t *testing.T) {
	s := NewSizer(limits())
	d := buy("AAPL", 100)
	d.Confidence = 0.78

	o, v := s.Size(d, Account{Cash: 1000})
	require.True(t, v.Approved)
	assert.Equal(t, int64(2), o.Quantity)
	assert.Equal(t, 200.0, o.Notional())
	assert.Equal(t, signals.Buy, o.Action)
	assert.Equal(t, 0.78, o.Confidence)
}

func TestSizer_BuyQuantities(t *testing.T) {
	for _, tc := range []struct {
		name     string
		fraction float64
		cash     float64
		conf     float64
		price    float64
		want     int64
	}{
		{"confidence scales target", 0.2, 1000, 0.5, 10, 15},
		{"confidence capped at one", 0.2, 1000, 0.9, 10, 20},
		{"cash buffer caps full allocation", 1.0, 1000, 1.0, 10, 95},
		{"too small", 0.2, 1000, 0.6, 500, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := Sizer{MaxPositionFraction: tc.fraction}
			d := buy("AAPL", tc.price)
			d.Confidence = tc.conf
			o, v := s.Size(d, Account{Cash: tc.cash})
			if tc.want == 0 {
				assert.False(t, v.Approved)
				assert.Equal(t, ReasonOrderTooSmall, v.Reason)
				return
			}
			require.True(t, v.Approved)
			assert.Equal(t, tc.want, o.Quantity)
		})
	}
}

func TestSizer_SellBoundedByHeldShares(t *testing.T) {
	s := NewSizer(limits())

	d := sell("AAPL", 100)
	d.Confidence = 0.5
	o, v := s.Size(d, Account{HeldShares: 10})
	require.True(t, v.Approved)
	assert.Equal(t, int64(7), o.Quantity)

	d.Confidence = 0.9
	o, _ = s.Size(d, Account{HeldShares: 10})
	assert.Equal(t, int64(10), o.Quantity)

	_, v = s.Size(d, Account{HeldShares: 0})
	assert.False(t, v.Approved)
	assert.Equal(t, ReasonNoPosition, v.Reason)

	exit := sell("AAPL", 100)
	exit.Source = decision.SourceStopLoss
	exit.Confidence = 0.1
	o, v = s.Size(exit, Account{HeldShares: 12})
	require.True(t, v.Approved)
	assert.Equal(t, int64(12), o.Quantity)
}

func TestSizer_RejectsHold(t *testing.T) {
	_, v := NewSizer(limits()).Size(decision.TradeDecision{Symbol: "AAPL", Action: signals.Hold, Price: 10}, Account{Cash: 100})
	assert.False(t, v.Approved)
}

func position(sym string, shares int64, cost float64) portfolio.Position {
	return portfolio.Position{Symbol: sym, Shares: shares, AvgCost: decimal.NewFromFloat(cost)}
}

func TestExitMonitor_StopLossAndTakeProfit(t *testing.T) {
	m := NewExitMonitor(0.05, 0.15, time.UTC)
	positions := []portfolio.Position{position("AAPL", 2, 100), position("MSFT", 1, 200), position("NVDA", 3, 50)}

	out := m.Check(positions, map[string]float64{"AAPL": 95, "MSFT": 230, "NVDA": 51}, day1)
	require.Len(t, out, 2)
	assert.Equal(t, decision.SourceStopLoss, out[0].Source)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.Equal(t, signals.Sell, out[0].Action)
	assert.Equal(t, 1.0, out[0].Confidence)
	assert.Equal(t, decision.SourceTakeProfit, out[1].Source)
	assert.Equal(t, "MSFT", out[1].Symbol)
}

func TestExitMonitor_OncePerSymbolPerDay(t *testing.T) {
	m := NewExitMonitor(0.05, 0, time.UTC)
	positions := []portfolio.Position{position("AAPL", 2, 100)}
	prices := map[string]float64{"AAPL": 90}

	assert.Len(t, m.Check(positions, prices, day1), 1)
	assert.Empty(t, m.Check(positions, prices, day1.Add(time.Minute)))

	next := day1.Add(24 * time.Hour)
	m.Forget(next)
	assert.Empty(t, m.Triggers())
	assert.Len(t, m.Check(positions, prices, next), 1)
}

func TestExitMonitor_IgnoresUnpricedAndDisabled(t *testing.T) {
	m := NewExitMonitor(0, 0, nil)
	assert.Empty(t, m.Check([]portfolio.Position{position("AAPL", 2, 100)}, map[string]float64{"AAPL": 1}, day1))

	m = NewExitMonitor(0.05, 0.15, nil)
	assert.Empty(t, m.Check([]portfolio.Position{position("AAPL", 2, 100)}, nil, day1))
}
