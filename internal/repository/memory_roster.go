package repository

import (
	"context"
	"sync"

	"github.com/Dhoini/runsheet-api/internal/domain"
	"github.com/Dhoini/runsheet-api/pkg/logger"
)

// InMemoryClientRepository реализация репозитория клиентов в памяти.
// Порядок списка совпадает с порядком создания.
type InMemoryClientRepository struct {
	clients map[string]domain.Client
	order   []string
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemoryClientRepository создает новый репозиторий клиентов в памяти
func NewInMemoryClientRepository(log *logger.Logger) *InMemoryClientRepository {
	return &InMemoryClientRepository{
		clients: make(map[string]domain.Client),
		log:     log,
	}
}

// Create сохраняет нового клиента
func (r *InMemoryClientRepository) Create(_ context.Context, client domain.Client) (domain.Client, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[client.ID]; exists {
		return domain.Client{}, domain.NewDuplicateError("client", "id", client.ID)
	}
	client.Attributes = cloneAttributes(client.Attributes)
	r.clients[client.ID] = client
	r.order = append(r.order, client.ID)

	r.log.Debugw("Client stored in memory", "clientID", client.ID)
	return client, nil
}

// List возвращает клиентов тренера; пустой coachID возвращает всех.
func (r *InMemoryClientRepository) List(_ context.Context, coachID string) ([]domain.Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	clients := make([]domain.Client, 0, len(r.order))
	for _, id := range r.order {
		c := r.clients[id]
		if coachID != "" && c.CoachID != coachID {
			continue
		}
		c.Attributes = cloneAttributes(c.Attributes)
		clients = append(clients, c)
	}
	return clients, nil
}

// GetByID возвращает клиента по ID
func (r *InMemoryClientRepository) GetByID(_ context.Context, id string) (domain.Client, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	client, exists := r.clients[id]
	if !exists {
		return domain.Client{}, domain.NewNotFoundError("client", id)
	}
	client.Attributes = cloneAttributes(client.Attributes)
	return client, nil
}

// Update заменяет существующего клиента
func (r *InMemoryClientRepository) Update(_ context.Context, client domain.Client) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[client.ID]; !exists {
		return domain.NewNotFoundError("client", client.ID)
	}
	client.Attributes = cloneAttributes(client.Attributes)
	r.clients[client.ID] = client
	return nil
}

// Delete удаляет клиента
func (r *InMemoryClientRepository) Delete(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.clients[id]; !exists {
		return domain.NewNotFoundError("client", id)
	}
	delete(r.clients, id)
	r.order = removeID(r.order, id)
	return nil
}

// coachOf возвращает тренера клиента; нужен фильтру планов по тренеру.
func (r *InMemoryClientRepository) coachOf(id string) (string, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.clients[id]
	return c.CoachID, ok
}

// InMemoryPlanRepository реализация репозитория планов в памяти
type InMemoryPlanRepository struct {
	plans   map[string]domain.Plan
	order   []string
	clients *InMemoryClientRepository
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemoryPlanRepository создает репозиторий планов. clients нужен для фильтра по тренеру.
func NewInMemoryPlanRepository(clients *InMemoryClientRepository, log *logger.Logger) *InMemoryPlanRepository {
	return &InMemoryPlanRepository{
		plans:   make(map[string]domain.Plan),
		clients: clients,
		log:     log,
	}
}

// Create сохраняет план
func (r *InMemoryPlanRepository) Create(_ context.Context, plan domain.Plan) (domain.Plan, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.plans[plan.ID]; exists {
		return domain.Plan{}, domain.NewDuplicateError("plan", "id", plan.ID)
	}
	r.plans[plan.ID] = plan
	r.order = append(r.order, plan.ID)

	r.log.Debugw("Plan stored in memory", "planID", plan.ID, "clientID", plan.ClientID)
	return plan, nil
}

// List возвращает планы по фильтру
func (r *InMemoryPlanRepository) List(_ context.Context, filter domain.PlanFilter) ([]domain.Plan, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	plans := make([]domain.Plan, 0, len(r.order))
	for _, id := range r.order {
		p := r.plans[id]
		if filter.ClientID != "" && p.ClientID != filter.ClientID {
			continue
		}
		if filter.CoachID != "" {
			coach, ok := r.clients.coachOf(p.ClientID)
			if !ok || coach != filter.CoachID {
				continue
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// Delete удаляет план
func (r *InMemoryPlanRepository) Delete(_ context.Context, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.plans[id]; !exists {
		return domain.NewNotFoundError("plan", id)
	}
	delete(r.plans, id)
	r.order = removeID(r.order, id)
	return nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func cloneAttributes(a domain.Attributes) domain.Attributes {
	if a == nil {
		return nil
	}
	out := make(domain.Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
