package domain

import (
	"time"
)

// SubscriptionStatus статус подписки Stripe
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Subscription представляет подписку в биллинг-провайдере
type Subscription struct {
	ID               string             `json:"id"`
	CustomerID       string             `json:"customer_id"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
}

// IsActive возвращает true только для статуса active.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// PeriodEndOr возвращает конец оплаченного периода или now+fallback, если провайдер его не прислал.
func (s Subscription) PeriodEndOr(now time.Time, fallback time.Duration) time.Time {
	if s.CurrentPeriodEnd != nil && !s.CurrentPeriodEnd.IsZero() {
		return s.CurrentPeriodEnd.UTC()
	}
	return now.Add(fallback).UTC()
}

// SubscriptionView форма подписки, которую видит клиент API.
type SubscriptionView struct {
	ID               string             `json:"id"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
}

// View преобразует подписку в SubscriptionView.
func (s Subscription) View() *SubscriptionView {
	return &SubscriptionView{
		ID:               s.ID,
		Status:           s.Status,
		CurrentPeriodEnd: s.CurrentPeriodEnd,
	}
}

// CheckoutParams параметры создания Checkout Session
type CheckoutParams struct {
	PriceID    string
	CustomerID string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession результат создания или событие завершения Checkout Session
type CheckoutSession struct {
	ID             string            `json:"id"`
	URL            string            `json:"url,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UserID возвращает back-reference на пользователя из метаданных сессии.
func (s CheckoutSession) UserID() string {
	return s.Metadata[MetaClerkUserID]
}
