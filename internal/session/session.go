// Package session implements the weighing session state machine: bowl
// selection, net weight guidance and verified transfers from scale 1 into the
// mixing bowl on scale 2.
package session

import (
	"time"

	"github.com/rewired-gh/weighstation/internal/models"
	"github.com/shopspring/decimal"
)

// Stage is the position within one ingredient cycle.
type Stage string

const (
	StagePlaceBowls      Stage = "place_bowls"
	StageWeighIngredient Stage = "weigh_ingredient"
)

// Bowl is a selected container and its tare weight.
type Bowl struct {
	Code     string
	Weight   decimal.Decimal
	Selected bool
}

// Session is the state of the one active batch. Values returned by Manager
// are copies; mutating them has no effect.
type Session struct {
	BatchID          string
	RecordID         string
	RecipeID         string
	RecipeName       string
	Operator         string
	Ingredients      []models.RecipeIngredient
	Repetition       int // 1-based
	TotalRepetitions int
	Index            int // 0-based into Ingredients
	Stage            Stage
	IngredientBowl   Bowl
	MixingBowl       Bowl
	// MixingTare is the empty mixing bowl weight recorded before the
	// repetition's first transfer.
	MixingTare decimal.NullDecimal
	NetWeight  decimal.NullDecimal
	LastScale2 decimal.Decimal
	StartedAt  time.Time

	confirmed []models.TransferredIngredient
}

// Current returns the ingredient being weighed.
func (s *Session) Current() models.RecipeIngredient {
	return s.Ingredients[s.Index]
}

// ReadyToTransfer reports whether the operator has settled on a net weight.
func (s *Session) ReadyToTransfer() bool {
	return s.Stage == StageWeighIngredient && s.NetWeight.Valid
}

// Confirmed returns the transfers confirmed in the current repetition.
func (s *Session) Confirmed() []models.TransferredIngredient {
	out := make([]models.TransferredIngredient, len(s.confirmed))
	copy(out, s.confirmed)
	return out
}

func (s *Session) clone() Session {
	c := *s
	c.Ingredients = make([]models.RecipeIngredient, len(s.Ingredients))
	copy(c.Ingredients, s.Ingredients)
	c.confirmed = s.Confirmed()
	return c
}

// confirmedNet sums the net weights already in the mixing bowl.
func (s *Session) confirmedNet() decimal.Decimal {
	sum := decimal.Zero
	for i := range s.confirmed {
		sum = sum.Add(s.confirmed[i].ActualNetWeight)
	}
	return sum
}

func (s *Session) resetRepetition() {
	s.Index = 0
	s.Stage = StagePlaceBowls
	s.IngredientBowl = Bowl{}
	s.MixingBowl = Bowl{}
	s.MixingTare = decimal.NullDecimal{}
	s.NetWeight = decimal.NullDecimal{}
	s.LastScale2 = decimal.Zero
	s.confirmed = nil
}
