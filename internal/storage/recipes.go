package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rewired-gh/weighstation/internal/models"
)

// AddRecipe inserts a recipe with its ingredients, replacing any ingredient
// list already stored under the same ID.
func (s *Storage) AddRecipe(ctx context.Context, recipe *models.Recipe) error {
	if err := recipe.Validate(); err != nil {
		return fmt.Errorf("invalid recipe: %w", err)
	}
	if recipe.CreatedAt.IsZero() {
		recipe.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recipes (id, code, name, created_at) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET code=excluded.code, name=excluded.name`,
		recipe.ID, recipe.Code, recipe.Name, recipe.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_ingredients WHERE recipe_id = ?`, recipe.ID); err != nil {
		return fmt.Errorf("failed to clear ingredients: %w", err)
	}
	for _, ing := range recipe.Ingredients {
		unit := ing.Unit
		if unit == "" {
			unit = "kg"
		}
		scaleNumber := ing.ScaleNumber
		if scaleNumber == 0 {
			scaleNumber = models.Scale1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_ingredients
				(recipe_id, sequence, ingredient_id, ingredient_code, ingredient_name,
				 target_weight, tolerance_percent, scale_number, bowl_size, unit)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			recipe.ID, ing.Sequence, ing.IngredientID, ing.IngredientCode, ing.IngredientName,
			ing.TargetWeight.String(), ing.TolerancePercent.String(), scaleNumber, ing.BowlSize, unit,
		); err != nil {
			return fmt.Errorf("failed to insert ingredient %d: %w", ing.Sequence, err)
		}
	}
	return tx.Commit()
}

// GetRecipe returns the recipe header.
func (s *Storage) GetRecipe(ctx context.Context, id string) (*models.Recipe, error) {
	var r models.Recipe
	var code sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name, created_at FROM recipes WHERE id = ?`, id).
		Scan(&r.ID, &code, &r.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recipe %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	r.Code = code.String
	r.CreatedAt = timeFromNano(createdAt)
	r.Ingredients, err = s.GetIngredients(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetIngredients returns the recipe's ingredients ordered by sequence.
func (s *Storage) GetIngredients(ctx context.Context, recipeID string) ([]models.RecipeIngredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipe_id, sequence, ingredient_id, ingredient_code, ingredient_name,
		       target_weight, tolerance_percent, scale_number, bowl_size, unit
		FROM recipe_ingredients WHERE recipe_id = ? ORDER BY sequence`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	var out []models.RecipeIngredient
	for rows.Next() {
		var ing models.RecipeIngredient
		var code, name, bowl sql.NullString
		if err := rows.Scan(
			&ing.RecipeID, &ing.Sequence, &ing.IngredientID, &code, &name,
			&ing.TargetWeight, &ing.TolerancePercent, &ing.ScaleNumber, &bowl, &ing.Unit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		ing.IngredientCode = code.String
		ing.IngredientName = name.String
		ing.BowlSize = bowl.String
		out = append(out, ing)
	}
	return out, rows.Err()
}
