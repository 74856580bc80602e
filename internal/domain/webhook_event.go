package domain

import (
	"time"
)

// EventType тип события вебхука Stripe
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
)

// BillingEvent проверенное и разобранное событие вебхука.
// Заполнено не больше одного из CheckoutSession и Subscription.
type BillingEvent struct {
	ID              string
	Type            EventType
	Created         time.Time
	Verified        bool
	CheckoutSession *CheckoutSession
	Subscription    *Subscription
}

// EntitlementChanged событие, которое публикуется после каждого изменения доступа
type EntitlementChanged struct {
	UserID         string             `json:"user_id"`
	From           EntitlementState   `json:"from"`
	To             EntitlementState   `json:"to"`
	IsPremium      bool               `json:"is_premium"`
	SubscriptionID string             `json:"subscription_id,omitempty"`
	Status         SubscriptionStatus `json:"status,omitempty"`
	Version        int64              `json:"version"`
	Reason         string             `json:"reason"`
	OccurredAt     time.Time          `json:"occurred_at"`
}
