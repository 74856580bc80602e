package service

import (
	"context"
	"time"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/internal/repository"
	"github.com/Dhoini/runsheet-api/pkg/logger"

	"github.com/google/uuid"
)

// ClientInput данные нового клиента. Неизвестные поля запроса попадают в Attributes.
type ClientInput struct {
	CoachID    string            `json:"coachId"`
	Name       string            `json:"name" validate:"required"`
	Email      string            `json:"email" validate:"omitempty,email"`
	Attributes domain.Attributes `json:"-"`
}

// ClientPatchInput частичное обновление клиента
type ClientPatchInput struct {
	CoachID    *string           `json:"coachId"`
	Name       *string           `json:"name" validate:"omitempty,min=1"`
	Email      *string           `json:"email" validate:"omitempty,email"`
	Attributes domain.Attributes `json:"-"`
}

// PlanInput данные нового плана
type PlanInput struct {
	ClientID string `json:"clientId" validate:"required"`
	Title    string `json:"title" validate:"required"`
	Content  string `json:"content"`
}

// RosterService клиенты тренера и их тренировочные планы
type RosterService struct {
	clients repository.ClientRepository
	plans   repository.PlanRepository
	log     *logger.Logger
	now     func() time.Time
}

// NewRosterService создает RosterService
func NewRosterService(clients repository.ClientRepository, plans repository.PlanRepository, log *logger.Logger) *RosterService {
	return &RosterService{
		clients: clients,
		plans:   plans,
		log:     log,
		now:     time.Now,
	}
}

func (s *RosterService) CreateClient(ctx context.Context, in ClientInput) (domain.Client, error) {
	now := s.now().UTC()
	client := domain.Client{
		ID:         uuid.NewString(),
		CoachID:    in.CoachID,
		Name:       in.Name,
		Email:      in.Email,
		Attributes: in.Attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.clients.Create(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	s.log.Infow("Client created", "clientID", created.ID, "coachID", created.CoachID)
	return created, nil
}

func (s *RosterService) ListClients(ctx context.Context, coachID string) ([]domain.Client, error) {
	return s.clients.List(ctx, coachID)
}

// UpdateClient накладывает переданные поля на существующего клиента.
func (s *RosterService) UpdateClient(ctx context.Context, id string, in ClientPatchInput) (domain.Client, error) {
	client, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	client.Apply(domain.ClientPatch{
		CoachID:    in.CoachID,
		Name:       in.Name,
		Email:      in.Email,
		Attributes: in.Attributes,
	}, s.now().UTC())

	if err := s.clients.Update(ctx, client); err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// DeleteClient удаляет клиента вместе с его планами.
func (s *RosterService) DeleteClient(ctx context.Context, id string) error {
	if _, err := s.clients.GetByID(ctx, id); err != nil {
		return err
	}

	plans, err := s.plans.List(ctx, domain.PlanFilter{ClientID: id})
	if err != nil {
		return err
	}
	for _, p := range plans {
		if err := s.plans.Delete(ctx, p.ID); err != nil && !isNotFound(err) {
			return err
		}
	}

	if err := s.clients.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("Client deleted", "clientID", id, "plans", len(plans))
	return nil
}

// CreatePlan сохраняет план существующего клиента.
func (s *RosterService) CreatePlan(ctx context.Context, in PlanInput) (domain.Plan, error) {
	if _, err := s.clients.GetByID(ctx, in.ClientID); err != nil {
		return domain.Plan{}, err
	}

	plan := domain.Plan{
		ID:        uuid.NewString(),
		ClientID:  in.ClientID,
		Title:     in.Title,
		Content:   in.Content,
		CreatedAt: s.now().UTC(),
	}
	created, err := s.plans.Create(ctx, plan)
	if err != nil {
		return domain.Plan{}, err
	}
	s.log.Infow("Plan created", "planID", created.ID, "clientID", created.ClientID)
	return created, nil
}

func (s *RosterService) ListPlans(ctx context.Context, filter domain.PlanFilter) ([]domain.Plan, error) {
	return s.plans.List(ctx, filter)
}

func (s *RosterService) DeletePlan(ctx context.Context, id string) error {
	return s.plans.Delete(ctx, id)
}

func (s *RosterService) GetClient(ctx context.Context, id string) (domain.Client, error) {
	return s.clients.GetByID(ctx, id)
}
