// Package calc implements the statistical and financial formulas used by
// the risk engine: return series, volatility, Value-at-Risk, Expected
// Shortfall, Kelly sizing, Sharpe/Sortino ratios, drawdown and
// concentration measures.
//
// All functions are pure: no state, no side effects. Inputs that cannot
// produce a meaningful result (empty series, zero denominators) return a
// documented fallback value instead of an error, so risk computation stays
// total.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The only transcendental step (square root) drops to float64 and is
// immediately converted back to decimal.
package calc

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places results are rounded to after a
// float64 transcendental step.
const Scale int32 = 12

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// sqrt computes the square root via float64 and converts straight back to
// decimal. Returns zero for non-positive input.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(d.InexactFloat64())).Round(Scale)
}

// Returns converts a price series into simple period returns:
// r_i = (p_i - p_{i-1}) / p_{i-1}. Pairs with a non-positive previous
// price are skipped. Fewer than two prices yield an empty series.
func Returns(prices []decimal.Decimal) []decimal.Decimal {
	if len(prices) < 2 {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if !prev.IsPositive() {
			continue
		}
		out = append(out, prices[i].Sub(prev).Div(prev))
	}
	return out
}

// Mean returns the arithmetic mean of the series, or zero for an empty one.
func Mean(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(xs))))
}

// StdDev returns the population standard deviation of the series, or zero
// when the series has fewer than two elements.
func StdDev(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) < 2 {
		return decimal.Zero
	}
	m := Mean(xs)
	sumSq := decimal.Zero
	for _, x := range xs {
		d := x.Sub(m)
		sumSq = sumSq.Add(d.Mul(d))
	}
	return sqrt(sumSq.Div(decimal.NewFromInt(int64(len(xs)))))
}

// Volatility is the standard deviation of a return series.
func Volatility(returns []decimal.Decimal) decimal.Decimal {
	return StdDev(returns)
}

// varIndex returns the tail cutoff index floor(n * (1 - confidence)),
// clamped to [0, n-1]. Confidence is a fraction in [0, 1].
func varIndex(n int, confidence decimal.Decimal) int {
	idx := int(decimal.NewFromInt(int64(n)).Mul(one.Sub(confidence)).IntPart())
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// ValueAtRisk returns the loss magnitude not expected to be exceeded at the
// given confidence level: sort returns ascending and take
// abs(returns[floor(n*(1-confidence))]). Zero for an empty series.
func ValueAtRisk(returns []decimal.Decimal, confidence decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(returns)
	return sorted[varIndex(len(sorted), confidence)].Abs()
}

// ExpectedShortfall returns the mean loss magnitude of the tail strictly
// below the VaR index. Zero when the tail is empty.
func ExpectedShortfall(returns []decimal.Decimal, confidence decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(returns)
	tail := sorted[:varIndex(len(sorted), confidence)]
	if len(tail) == 0 {
		return decimal.Zero
	}
	return Mean(tail).Abs()
}

// Kelly returns the Kelly criterion fraction of capital to risk per trade:
// k = p - (1-p)/r with p = winRatePct/100. The result is clamped to [0, 1].
// Returns zero when the win/loss ratio is non-positive.
func Kelly(winRatePct, winLossRatio decimal.Decimal) decimal.Decimal {
	if !winLossRatio.IsPositive() {
		return decimal.Zero
	}
	p := winRatePct.Div(hundred)
	k := p.Sub(one.Sub(p).Div(winLossRatio))
	if k.IsNegative() {
		return decimal.Zero
	}
	if k.GreaterThan(one) {
		return one
	}
	return k
}

// SharpeRatio returns mean excess return over the standard deviation of
// the excess return series. Zero for an empty series or zero deviation.
func SharpeRatio(returns []decimal.Decimal, riskFree decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	excess := make([]decimal.Decimal, len(returns))
	for i, r := range returns {
		excess[i] = r.Sub(riskFree)
	}
	sd := StdDev(excess)
	if sd.IsZero() {
		return decimal.Zero
	}
	return Mean(excess).Div(sd)
}

// SortinoRatio returns mean excess return over the downside deviation
// (root mean square of negative excess returns). Zero for an empty series
// or zero downside deviation.
func SortinoRatio(returns []decimal.Decimal, riskFree decimal.Decimal) decimal.Decimal {
	if len(returns) == 0 {
		return decimal.Zero
	}
	excess := make([]decimal.Decimal, len(returns))
	sumSqDown := decimal.Zero
	for i, r := range returns {
		e := r.Sub(riskFree)
		excess[i] = e
		if e.IsNegative() {
			sumSqDown = sumSqDown.Add(e.Mul(e))
		}
	}
	downside := sqrt(sumSqDown.Div(decimal.NewFromInt(int64(len(excess)))))
	if downside.IsZero() {
		return decimal.Zero
	}
	return Mean(excess).Div(downside)
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity
// curve as a non-negative percentage of the peak. Zero for a monotonically
// non-decreasing curve or an empty one.
func MaxDrawdown(equityCurve []decimal.Decimal) decimal.Decimal {
	maxDD := decimal.Zero
	peak := decimal.Zero
	for _, v := range equityCurve {
		if v.GreaterThan(peak) {
			peak = v
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(v).Div(peak).Mul(hundred)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// HHIDiversity measures portfolio diversification as 1 - HHI, where HHI is
// the Herfindahl-Hirschman index of the weight distribution (weights in
// percent). 1 = perfectly spread, 0 = fully concentrated or empty.
func HHIDiversity(weights []decimal.Decimal) decimal.Decimal {
	if len(weights) == 0 {
		return decimal.Zero
	}
	hhi := decimal.Zero
	for _, w := range weights {
		f := w.Div(hundred)
		hhi = hhi.Add(f.Mul(f))
	}
	div := one.Sub(hhi)
	if div.IsNegative() {
		return decimal.Zero
	}
	return div
}

// Correlation returns the Pearson correlation coefficient of two return
// series, truncated to the shorter length. Zero when fewer than two paired
// observations exist or either series has zero variance.
func Correlation(a, b []decimal.Decimal) decimal.Decimal {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return decimal.Zero
	}
	ma := Mean(a[:n])
	mb := Mean(b[:n])

	cov := decimal.Zero
	varA := decimal.Zero
	varB := decimal.Zero
	for i := 0; i < n; i++ {
		da := a[i].Sub(ma)
		db := b[i].Sub(mb)
		cov = cov.Add(da.Mul(db))
		varA = varA.Add(da.Mul(da))
		varB = varB.Add(db.Mul(db))
	}

	denom := sqrt(varA.Mul(varB))
	if denom.IsZero() {
		return decimal.Zero
	}
	corr := cov.Div(denom)
	// Clamp rounding spill past ±1.
	if corr.GreaterThan(one) {
		return one
	}
	if corr.LessThan(one.Neg()) {
		return one.Neg()
	}
	return corr
}

func sortedCopy(xs []decimal.Decimal) []decimal.Decimal {
	sorted := make([]decimal.Decimal, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	return sorted
}
