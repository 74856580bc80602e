package domain

// Customer представляет клиента в Stripe
type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UserID возвращает ID пользователя Clerk, сохраненный в метаданных клиента.
func (c Customer) UserID() string {
	return c.Metadata[MetaClerkUserID]
}

// CustomerParams параметры для создания клиента
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}
