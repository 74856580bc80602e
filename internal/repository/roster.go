package repository

import (
	"context"

	"github.com/Dhoini/runsheet-api/internal/domain"
)

// ClientRepository хранилище клиентов тренера
type ClientRepository interface {
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
	List(ctx context.Context, coachID string) ([]domain.Client, error)
	GetByID(ctx context.Context, id string) (domain.Client, error)
	Update(ctx context.Context, client domain.Client) error
	Delete(ctx context.Context, id string) error
}

// PlanRepository хранилище тренировочных планов
type PlanRepository interface {
	Create(ctx context.Context, plan domain.Plan) (domain.Plan, error)
	List(ctx context.Context, filter domain.PlanFilter) ([]domain.Plan, error)
	Delete(ctx context.Context, id string) error
}
