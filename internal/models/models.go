// Package models provides domain models for the scenario trading application.
package models

import (
	"time"
)

// ScenarioType identifies one of the four scenarios of a battle card.
type ScenarioType string

const (
	ScenarioA ScenarioType = "A" // Primary
	ScenarioB ScenarioType = "B" // Secondary
	ScenarioC ScenarioType = "C" // Chaos (no-trade)
	ScenarioD ScenarioType = "D" // Invalidation
)

// ScenarioTypes is the canonical evaluation order.
var ScenarioTypes = []ScenarioType{ScenarioA, ScenarioB, ScenarioC, ScenarioD}

// Valid reports whether t is one of A, B, C or D.
func (t ScenarioType) Valid() bool {
	switch t {
	case ScenarioA, ScenarioB, ScenarioC, ScenarioD:
		return true
	}
	return false
}

// Label returns the human name of the scenario slot.
func (t ScenarioType) Label() string {
	switch t {
	case ScenarioA:
		return "Primary"
	case ScenarioB:
		return "Secondary"
	case ScenarioC:
		return "Chaos"
	case ScenarioD:
		return "Invalidation"
	default:
		return string(t)
	}
}

// Direction represents the side of a simulated position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Quote represents the latest price of an instrument as delivered by a quote feed.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	High24h   *float64  `json:"high24h,omitempty"`
	Low24h    *float64  `json:"low24h,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Float returns a pointer to v. Used for optional price levels.
func Float(v float64) *float64 {
	return &v
}

// Level dereferences an optional price level, returning 0 when absent.
func Level(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// HasLevel reports whether an optional price level is set to a usable value.
func HasLevel(p *float64) bool {
	return p != nil && *p > 0
}
