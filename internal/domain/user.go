package domain

import "strings"

// Ключи публичных метаданных пользователя и back-reference в объектах Stripe.
const (
	MetaIsPremium             = "isPremium"
	MetaStripeCustomerID      = "stripeCustomerId"
	MetaSubscriptionID        = "subscriptionId"
	MetaSubscriptionStatus    = "subscriptionStatus"
	MetaSubscriptionPeriodEnd = "subscriptionPeriodEnd"
	MetaEntitlementState      = "entitlementState"
	MetaEntitlementVersion    = "entitlementVersion"
	MetaEntitlementUpdatedAt  = "entitlementUpdatedAt"
	MetaEntitlementEventAt    = "entitlementEventAt"

	// MetaClerkUserID хранится в метаданных Customer, Checkout Session и Subscription
	MetaClerkUserID = "clerkUserId"
)

// Metadata открытый набор ключей, которые identity-провайдер хранит у пользователя.
type Metadata map[string]any

// Merge возвращает новую карту: старые ключи, поверх которых наложены ключи partial.
// Значение nil удаляет ключ, как это делает Clerk при слиянии метаданных.
func (m Metadata) Merge(partial Metadata) Metadata {
	out := make(Metadata, len(m)+len(partial))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range partial {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Clone возвращает поверхностную копию карты.
func (m Metadata) Clone() Metadata {
	return Metadata(nil).Merge(m)
}

// User пользователь identity-провайдера
type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// FullName склеивает имя и фамилию.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Entitlement возвращает запись о доступе, сохраненную в метаданных.
func (u User) Entitlement() EntitlementRecord {
	return EntitlementFromMetadata(u.Metadata)
}
