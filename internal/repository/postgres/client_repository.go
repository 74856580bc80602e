package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// ClientRepository реализация репозитория клиентов через PostgreSQL
type ClientRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewClientRepository создает новый репозиторий клиентов через PostgreSQL
func NewClientRepository(db *sqlx.DB, log *logger.Logger) *ClientRepository {
	return &ClientRepository{
		db:  db,
		log: log,
	}
}

// Create создает нового клиента
func (r *ClientRepository) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	query := `
		INSERT INTO clients (id, coach_id, name, email, attributes, created_at, updated_at)
		VALUES (:id, :coach_id, :name, :email, :attributes, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, client); err != nil {
		if isUniqueViolation(err) {
			return domain.Client{}, domain.NewDuplicateError("client", "id", client.ID)
		}
		r.log.Errorw("Failed to insert client", "clientID", client.ID, "error", err)
		return domain.Client{}, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

// List возвращает клиентов тренера в порядке создания
func (r *ClientRepository) List(ctx context.Context, coachID string) ([]domain.Client, error) {
	query := `
		SELECT id, coach_id, name, email, attributes, created_at, updated_at
		FROM clients
		WHERE ($1 = '' OR coach_id = $1)
		ORDER BY created_at, id
	`
	clients := []domain.Client{}
	if err := r.db.SelectContext(ctx, &clients, query, coachID); err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return clients, nil
}

// GetByID возвращает клиента по ID
func (r *ClientRepository) GetByID(ctx context.Context, id string) (domain.Client, error) {
	query := `
		SELECT id, coach_id, name, email, attributes, created_at, updated_at
		FROM clients
		WHERE id = $1
	`
	var client domain.Client
	if err := r.db.GetContext(ctx, &client, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, domain.NewNotFoundError("client", id)
		}
		return domain.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return client, nil
}

// Update обновляет существующего клиента
func (r *ClientRepository) Update(ctx context.Context, client domain.Client) error {
	query := `
		UPDATE clients
		SET coach_id = :coach_id, name = :name, email = :email, attributes = :attributes, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, client)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireAffected(result, "client", client.ID)
}

// Delete удаляет клиента; его планы удаляются каскадно
func (r *ClientRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return requireAffected(result, "client", id)
}

func requireAffected(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows count: %w", err)
	}
	if rows == 0 {
		return domain.NewNotFoundError(entity, id)
	}
	return nil
}
