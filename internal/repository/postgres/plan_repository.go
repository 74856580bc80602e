package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// PlanRepository реализация репозитория планов через PostgreSQL
type PlanRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPlanRepository создает новый репозиторий планов через PostgreSQL
func NewPlanRepository(db *sqlx.DB, log *logger.Logger) *PlanRepository {
	return &PlanRepository{
		db:  db,
		log: log,
	}
}

// Create сохраняет план
func (r *PlanRepository) Create(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	query := `
		INSERT INTO plans (id, client_id, title, content, created_at)
		VALUES (:id, :client_id, :title, :content, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		if isUniqueViolation(err) {
			return domain.Plan{}, domain.NewDuplicateError("plan", "id", plan.ID)
		}
		r.log.Errorw("Failed to insert plan", "planID", plan.ID, "error", err)
		return domain.Plan{}, fmt.Errorf("failed to create plan: %w", err)
	}
	return plan, nil
}

// List возвращает планы по клиенту и/или тренеру
func (r *PlanRepository) List(ctx context.Context, filter domain.PlanFilter) ([]domain.Plan, error) {
	query := `
		SELECT p.id, p.client_id, p.title, p.content, p.created_at
		FROM plans p
		JOIN clients c ON c.id = p.client_id
		WHERE ($1 = '' OR p.client_id = $1)
		  AND ($2 = '' OR c.coach_id = $2)
		ORDER BY p.created_at, p.id
	`
	plans := []domain.Plan{}
	if err := r.db.SelectContext(ctx, &plans, query, filter.ClientID, filter.CoachID); err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	return plans, nil
}

// Delete удаляет план
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	return requireAffected(result, "plan", id)
}
