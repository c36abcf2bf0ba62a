package model

type AssetType string

const (
	Crypto    AssetType = "crypto"
	Stock     AssetType = "stock"
	Forex     AssetType = "forex"
	Commodity AssetType = "commodity"
	Index     AssetType = "index"
)

type Asset struct {
	ID     string    `json:"id" yaml:"id"`
	Symbol string    `json:"symbol" yaml:"symbol"`
	Name   string    `json:"name,omitempty" yaml:"name"`
	Type   AssetType `json:"type" yaml:"type"`
	Price  float64   `json:"price" yaml:"price"`
}

type Position struct {
	Asset        Asset   `json:"asset"`
	Quantity     float64 `json:"quantity"`
	AverageCost  float64 `json:"averageCost"`
	CurrentValue float64 `json:"currentValue"`
	ProfitLoss   float64 `json:"profitLoss"`
}

// Snapshot is a read-only view of the simulated account at a point in time.
type Snapshot struct {
	Cash      float64    `json:"cash"`
	Positions []Position `json:"positions"`
}

func (s Snapshot) InvestedValue() float64 {
	var sum float64
	for _, p := range s.Positions {
		sum += p.CurrentValue
	}
	return sum
}

func (s Snapshot) TotalValue() float64 {
	return s.Cash + s.InvestedValue()
}
