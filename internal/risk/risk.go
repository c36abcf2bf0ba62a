// Package risk derives portfolio metrics and a heuristic risk score from a snapshot.
package risk

import (
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/tools"
)

const (
	RecommendFund          = "Fund your account to start building a portfolio."
	RecommendCashCritical  = "Your cash reserve is critically low. Keep at least 10-20% in cash for opportunities and emergencies."
	RecommendCashLow       = "Consider increasing your cash reserve to at least 20% of your portfolio."
	RecommendConcentration = "Your largest position exceeds 40% of your portfolio. Reduce concentration risk by trimming it."
	RecommendTrim          = "Your largest position is above 25% of your portfolio. Consider rebalancing."
	RecommendDiversify     = "Hold at least 3 different assets to avoid single-asset risk."
	RecommendMorePositions = "Adding a few more positions would improve diversification."
	RecommendCryptoHigh    = "Crypto makes up more than half of your invested capital. Balance it with less volatile assets."
	RecommendCryptoWatch   = "Your crypto exposure is above 30%. Keep an eye on volatility."
	RecommendBalanced      = "Your portfolio looks well balanced. Keep monitoring your positions regularly."
)

// Analyze is pure: identical snapshots always produce identical reports.
func Analyze(s model.Snapshot) model.RiskReport {
	total := s.TotalValue()
	if !(total > 0) {
		return model.RiskReport{
			Cash:            s.Cash,
			Allocation:      map[model.AssetType]float64{},
			Level:           model.LowRisk,
			Recommendations: []string{RecommendFund},
		}
	}

	invested := s.InvestedValue()
	r := model.RiskReport{
		TotalValue:    total,
		Cash:          s.Cash,
		InvestedValue: invested,
		CashPercent:   tools.Percent(s.Cash, total),
		PositionCount: len(s.Positions),
		Allocation:    make(map[model.AssetType]float64),
	}

	var (
		largest    float64
		cryptoSum  float64
		hhi        float64
		costBasis  float64
		byTypeSums = make(map[model.AssetType]float64)
	)
	for _, p := range s.Positions {
		r.TotalProfitLoss += p.ProfitLoss
		costBasis += p.CurrentValue - p.ProfitLoss
		if p.CurrentValue > largest {
			largest = p.CurrentValue
			r.LargestPosition = p.Asset.Symbol
		}
		if p.Asset.Type == model.Crypto {
			cryptoSum += p.CurrentValue
		}
		byTypeSums[p.Asset.Type] += p.CurrentValue
		if invested > 0 {
			w := p.CurrentValue / invested
			hhi += w * w
		}
	}

	r.LargestPositionPercent = tools.Percent(largest, total)
	r.CryptoPercent = tools.Percent(cryptoSum, invested)
	r.TotalProfitLossPercent = tools.Percent(r.TotalProfitLoss, costBasis)
	for t, v := range byTypeSums {
		r.Allocation[t] = tools.Percent(v, invested)
	}
	if len(s.Positions) > 0 && invested > 0 {
		r.Diversification = (1 - hhi) * 100
	}

	r.Score = cashPoints(r.CashPercent) +
		concentrationPoints(r.LargestPositionPercent) +
		countPoints(r.PositionCount) +
		cryptoPoints(r.CryptoPercent)
	r.Level = Level(r.Score)
	r.Recommendations = recommendations(r)

	return r
}

func Level(score int) model.RiskLevel {
	switch {
	case score < 30:
		return model.LowRisk
	case score < 60:
		return model.MediumRisk
	default:
		return model.HighRisk
	}
}

func cashPoints(pct float64) int {
	switch {
	case pct < 10:
		return 30
	case pct < 20:
		return 15
	default:
		return 0
	}
}

func concentrationPoints(pct float64) int {
	switch {
	case pct > 40:
		return 30
	case pct > 25:
		return 15
	default:
		return 0
	}
}

func countPoints(n int) int {
	switch {
	case n < 3:
		return 20
	case n < 5:
		return 10
	default:
		return 0
	}
}

func cryptoPoints(pct float64) int {
	switch {
	case pct > 50:
		return 20
	case pct > 30:
		return 10
	default:
		return 0
	}
}

func recommendations(r model.RiskReport) []string {
	var out []string

	switch {
	case r.CashPercent < 10:
		out = append(out, RecommendCashCritical)
	case r.CashPercent < 20:
		out = append(out, RecommendCashLow)
	}

	switch {
	case r.LargestPositionPercent > 40:
		out = append(out, RecommendConcentration)
	case r.LargestPositionPercent > 25:
		out = append(out, RecommendTrim)
	}

	switch {
	case r.PositionCount < 3:
		out = append(out, RecommendDiversify)
	case r.PositionCount < 5:
		out = append(out, RecommendMorePositions)
	}

	switch {
	case r.CryptoPercent > 50:
		out = append(out, RecommendCryptoHigh)
	case r.CryptoPercent > 30:
		out = append(out, RecommendCryptoWatch)
	}

	if len(out) == 0 {
		out = append(out, RecommendBalanced)
	}
	return out
}
