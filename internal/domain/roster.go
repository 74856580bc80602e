package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Attributes произвольные поля клиента, которые присылает фронтенд. Хранятся как JSONB.
type Attributes map[string]any

// Value реализует driver.Valuer
func (a Attributes) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan реализует sql.Scanner
func (a *Attributes) Scan(value interface{}) error {
	if value == nil {
		*a = Attributes{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("attributes: invalid scan source")
	}
	out := Attributes{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// Client клиент тренера (бегун), для которого генерируются планы
type Client struct {
	ID         string     `json:"id" db:"id"`
	CoachID    string     `json:"coachId" db:"coach_id"`
	Name       string     `json:"name" db:"name"`
	Email      string     `json:"email,omitempty" db:"email"`
	Attributes Attributes `json:"attributes,omitempty" db:"attributes"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time  `json:"updatedAt" db:"updated_at"`
}

// ClientPatch частичное обновление клиента; nil означает "не менять".
type ClientPatch struct {
	CoachID    *string
	Name       *string
	Email      *string
	Attributes Attributes
}

// Apply накладывает патч на клиента. Attributes сливаются по ключам.
func (c *Client) Apply(p ClientPatch, now time.Time) {
	if p.CoachID != nil {
		c.CoachID = *p.CoachID
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if len(p.Attributes) > 0 {
		merged := make(Attributes, len(c.Attributes)+len(p.Attributes))
		for k, v := range c.Attributes {
			merged[k] = v
		}
		for k, v := range p.Attributes {
			merged[k] = v
		}
		c.Attributes = merged
	}
	c.UpdatedAt = now
}

// Plan сгенерированный тренировочный план
type Plan struct {
	ID        string    `json:"id" db:"id"`
	ClientID  string    `json:"clientId" db:"client_id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// PlanFilter фильтр списка планов. CoachID фильтрует через клиентов тренера.
type PlanFilter struct {
	ClientID string
	CoachID  string
}
