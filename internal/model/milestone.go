package model

import (
	"strconv"
	"time"
)

type Milestone struct {
	Percentage float64    `json:"percentage"`
	Reached    bool       `json:"reached"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type MilestoneState struct {
	InitialValue float64              `json:"initialValue"`
	Milestones   map[string]Milestone `json:"milestones"`
}

// ThresholdKey is the key a threshold is stored under, e.g. "25" or "-10".
func ThresholdKey(threshold float64) string {
	return strconv.FormatFloat(threshold, 'f', -1, 64)
}

func NewMilestoneState(baseline float64, thresholds []float64) MilestoneState {
	s := MilestoneState{
		InitialValue: baseline,
		Milestones:   make(map[string]Milestone, len(thresholds)),
	}
	for _, t := range thresholds {
		s.Milestones[ThresholdKey(t)] = Milestone{Percentage: t}
	}
	return s
}
