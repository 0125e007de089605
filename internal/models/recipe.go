package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/weighstation/internal/tolerance"
	"github.com/shopspring/decimal"
)

// Recipe is a named, ordered list of ingredients.
type Recipe struct {
	ID          string             `json:"id"`
	Code        string             `json:"code"`
	Name        string             `json:"name"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Validate checks the recipe and each of its ingredients.
func (r *Recipe) Validate() error {
	if r.ID == "" {
		return errors.New("recipe ID must not be empty")
	}
	if r.Name == "" {
		return errors.New("recipe name must not be empty")
	}
	if len(r.Ingredients) == 0 {
		return errors.New("recipe must have at least one ingredient")
	}
	seen := make(map[int]bool, len(r.Ingredients))
	for i := range r.Ingredients {
		ing := &r.Ingredients[i]
		if err := ing.Validate(); err != nil {
			return err
		}
		if seen[ing.Sequence] {
			return fmt.Errorf("duplicate sequence %d", ing.Sequence)
		}
		seen[ing.Sequence] = true
	}
	for seq := 1; seq <= len(r.Ingredients); seq++ {
		if !seen[seq] {
			return fmt.Errorf("sequence %d missing; sequences must be contiguous from 1", seq)
		}
	}
	return nil
}

// RecipeIngredient is one step of a recipe: what to weigh, how much, and how
// far the net weight may stray from the target.
type RecipeIngredient struct {
	RecipeID         string          `json:"recipe_id"`
	Sequence         int             `json:"sequence"`
	IngredientID     string          `json:"ingredient_id"`
	IngredientCode   string          `json:"ingredient_code"`
	IngredientName   string          `json:"ingredient_name"`
	TargetWeight     decimal.Decimal `json:"target_weight"`
	TolerancePercent decimal.Decimal `json:"tolerance_percent"`
	ScaleNumber      int             `json:"scale_number"`
	BowlSize         string          `json:"bowl_size"`
	Unit             string          `json:"unit"`
}

// Band returns the acceptable net weight range.
func (r RecipeIngredient) Band() tolerance.Band {
	return tolerance.IngredientBand(r.TargetWeight, r.TolerancePercent)
}

func (r RecipeIngredient) MinWeight() decimal.Decimal      { return r.Band().Min }
func (r RecipeIngredient) MaxWeight() decimal.Decimal      { return r.Band().Max }
func (r RecipeIngredient) ToleranceValue() decimal.Decimal { return r.Band().Value }

// Validate checks ingredient field constraints.
func (r *RecipeIngredient) Validate() error {
	if r.Sequence < 1 {
		return fmt.Errorf("ingredient %q: sequence must be >= 1", r.IngredientCode)
	}
	if r.IngredientID == "" {
		return errors.New("ingredient ID must not be empty")
	}
	if !r.TargetWeight.IsPositive() {
		return fmt.Errorf("ingredient %q: target weight must be positive", r.IngredientCode)
	}
	if r.TolerancePercent.IsNegative() {
		return fmt.Errorf("ingredient %q: tolerance must not be negative", r.IngredientCode)
	}
	return nil
}
