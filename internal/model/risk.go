package model

type RiskLevel string

const (
	LowRisk    RiskLevel = "Low Risk"
	MediumRisk RiskLevel = "Medium Risk"
	HighRisk   RiskLevel = "High Risk"
)

type RiskReport struct {
	TotalValue             float64               `json:"totalValue"`
	Cash                   float64               `json:"cash"`
	InvestedValue          float64               `json:"investedValue"`
	TotalProfitLoss        float64               `json:"totalProfitLoss"`
	TotalProfitLossPercent float64               `json:"totalProfitLossPercent"`
	CashPercent            float64               `json:"cashPercent"`
	LargestPositionPercent float64               `json:"largestPositionPercent"`
	LargestPosition        string                `json:"largestPosition,omitempty"`
	PositionCount          int                   `json:"positionCount"`
	CryptoPercent          float64               `json:"cryptoPercent"`
	Diversification        float64               `json:"diversification"`
	Allocation             map[AssetType]float64 `json:"allocation"`
	Score                  int                   `json:"score"`
	Level                  RiskLevel             `json:"level"`
	Recommendations        []string              `json:"recommendations"`
}
