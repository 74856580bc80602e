package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// metadataTimeLayout совпадает с форматом Date.toISOString, который пишет фронтенд.
const metadataTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// EntitlementState состояние доступа пользователя к премиум-функциям
type EntitlementState string

const (
	EntitlementStateFree            EntitlementState = "free"
	EntitlementStatePendingCheckout EntitlementState = "pending_checkout"
	EntitlementStatePremium         EntitlementState = "premium"
	EntitlementStateExpired         EntitlementState = "expired"
	EntitlementStateCanceled        EntitlementState = "canceled"
)

// Valid проверяет, что строка является известным состоянием.
func (s EntitlementState) Valid() bool {
	switch s {
	case EntitlementStateFree, EntitlementStatePendingCheckout, EntitlementStatePremium,
		EntitlementStateExpired, EntitlementStateCanceled:
		return true
	}
	return false
}

// StateForStatus переводит статус подписки Stripe в состояние доступа.
func StateForStatus(status SubscriptionStatus) EntitlementState {
	switch status {
	case SubscriptionStatusActive:
		return EntitlementStatePremium
	case SubscriptionStatusCanceled:
		return EntitlementStateCanceled
	default:
		return EntitlementStateExpired
	}
}

// ResolutionSource откуда резолвер взял ответ
type ResolutionSource string

const (
	SourceMetadata   ResolutionSource = "metadata"
	SourceLive       ResolutionSource = "live"
	SourceStaleCache ResolutionSource = "stale-cache"
	SourceFallback   ResolutionSource = "fallback"
)

// Entitlement ответ резолвера
type Entitlement struct {
	IsPremium    bool              `json:"isPremium"`
	Subscription *SubscriptionView `json:"subscription"`
	State        EntitlementState  `json:"state"`
	Source       ResolutionSource  `json:"source"`
}

// EntitlementRecord запись о доступе, которая хранится в метаданных пользователя.
// Version растет на каждой записи, UpdatedAt и LastEventAt служат для обнаружения конфликтов.
type EntitlementRecord struct {
	IsPremium             bool
	StripeCustomerID      string
	SubscriptionID        string
	SubscriptionStatus    SubscriptionStatus
	SubscriptionPeriodEnd *time.Time
	State                 EntitlementState
	Version               int64
	UpdatedAt             *time.Time
	LastEventAt           *time.Time
}

// EntitlementFromMetadata читает запись из метаданных. Записи без entitlementState
// (созданные до появления машины состояний) получают состояние, выведенное из isPremium и статуса.
func EntitlementFromMetadata(m Metadata) EntitlementRecord {
	r := EntitlementRecord{
		IsPremium:             boolValue(m[MetaIsPremium]),
		StripeCustomerID:      stringValue(m[MetaStripeCustomerID]),
		SubscriptionID:        stringValue(m[MetaSubscriptionID]),
		SubscriptionStatus:    SubscriptionStatus(stringValue(m[MetaSubscriptionStatus])),
		SubscriptionPeriodEnd: timeValue(m[MetaSubscriptionPeriodEnd]),
		State:                 EntitlementState(stringValue(m[MetaEntitlementState])),
		Version:               intValue(m[MetaEntitlementVersion]),
		UpdatedAt:             timeValue(m[MetaEntitlementUpdatedAt]),
		LastEventAt:           timeValue(m[MetaEntitlementEventAt]),
	}
	if !r.State.Valid() {
		r.State = r.derivedState()
	}
	return r
}

func (r EntitlementRecord) derivedState() EntitlementState {
	switch {
	case r.IsPremium:
		return EntitlementStatePremium
	case r.SubscriptionStatus == SubscriptionStatusCanceled:
		return EntitlementStateCanceled
	case r.SubscriptionStatus != "":
		return EntitlementStateExpired
	default:
		return EntitlementStateFree
	}
}

// Metadata возвращает частичные метаданные для слияния. Пустые поля не пишутся,
// поэтому слияние сохраняет ранее записанные значения.
func (r EntitlementRecord) Metadata() Metadata {
	m := Metadata{
		MetaIsPremium:          r.IsPremium,
		MetaEntitlementState:   string(r.State),
		MetaEntitlementVersion: r.Version,
	}
	if r.StripeCustomerID != "" {
		m[MetaStripeCustomerID] = r.StripeCustomerID
	}
	if r.SubscriptionID != "" {
		m[MetaSubscriptionID] = r.SubscriptionID
	}
	if r.SubscriptionStatus != "" {
		m[MetaSubscriptionStatus] = string(r.SubscriptionStatus)
	}
	if r.SubscriptionPeriodEnd != nil {
		m[MetaSubscriptionPeriodEnd] = r.SubscriptionPeriodEnd.UTC().Format(metadataTimeLayout)
	}
	if r.UpdatedAt != nil {
		m[MetaEntitlementUpdatedAt] = r.UpdatedAt.UTC().Format(metadataTimeLayout)
	}
	if r.LastEventAt != nil {
		m[MetaEntitlementEventAt] = r.LastEventAt.UTC().Format(metadataTimeLayout)
	}
	return m
}

// ActiveAt true, если запись говорит "премиум" и оплаченный период еще не закончился.
func (r EntitlementRecord) ActiveAt(now time.Time) bool {
	return r.IsPremium && r.SubscriptionPeriodEnd != nil && r.SubscriptionPeriodEnd.After(now)
}

// CachedSubscription синтезирует подписку из метаданных для быстрого пути.
func (r EntitlementRecord) CachedSubscription() *SubscriptionView {
	return &SubscriptionView{
		ID:               r.SubscriptionID,
		Status:           SubscriptionStatusActive,
		CurrentPeriodEnd: r.SubscriptionPeriodEnd,
	}
}

// SameAs сравнивает записи без учета Version и UpdatedAt.
func (r EntitlementRecord) SameAs(o EntitlementRecord) bool {
	return r.IsPremium == o.IsPremium &&
		r.StripeCustomerID == o.StripeCustomerID &&
		r.SubscriptionID == o.SubscriptionID &&
		r.SubscriptionStatus == o.SubscriptionStatus &&
		r.State == o.State &&
		equalTime(r.SubscriptionPeriodEnd, o.SubscriptionPeriodEnd) &&
		equalTime(r.LastEventAt, o.LastEventAt)
}

// IsStale true, если событие старше последнего примененного.
func (r EntitlementRecord) IsStale(eventAt time.Time) bool {
	return r.LastEventAt != nil && eventAt.Before(*r.LastEventAt)
}

// FillFrom переносит из o только то, чего в записи нет: конец периода той же подписки
// и ID клиента. Используется для устаревших событий, которые не должны менять статус.
func (r EntitlementRecord) FillFrom(o EntitlementRecord) EntitlementRecord {
	if r.StripeCustomerID == "" {
		r.StripeCustomerID = o.StripeCustomerID
	}
	if r.SubscriptionPeriodEnd == nil && o.SubscriptionPeriodEnd != nil &&
		r.SubscriptionID != "" && r.SubscriptionID == o.SubscriptionID {
		end := *o.SubscriptionPeriodEnd
		r.SubscriptionPeriodEnd = &end
	}
	return r
}

// WithCustomer запоминает ID клиента Stripe.
func (r EntitlementRecord) WithCustomer(customerID string) EntitlementRecord {
	if customerID != "" {
		r.StripeCustomerID = customerID
	}
	return r
}

// WithCheckoutStarted переводит запись в PendingCheckout, если пользователь еще не премиум.
func (r EntitlementRecord) WithCheckoutStarted(customerID string) EntitlementRecord {
	r = r.WithCustomer(customerID)
	if r.State != EntitlementStatePremium {
		r.State = EntitlementStatePendingCheckout
	}
	return r
}

// WithCheckoutCompleted применяет checkout.session.completed. Конец периода не трогается.
func (r EntitlementRecord) WithCheckoutCompleted(customerID, subscriptionID string) EntitlementRecord {
	r = r.WithCustomer(customerID)
	r.IsPremium = true
	r.SubscriptionID = subscriptionID
	r.SubscriptionStatus = SubscriptionStatusActive
	r.State = EntitlementStatePremium
	return r
}

// WithSubscription перезаписывает запись по подписке: премиум только для статуса active.
func (r EntitlementRecord) WithSubscription(sub Subscription, periodEnd time.Time) EntitlementRecord {
	r = r.WithCustomer(sub.CustomerID)
	end := normalizeTime(periodEnd)
	r.IsPremium = sub.IsActive()
	r.SubscriptionID = sub.ID
	r.SubscriptionStatus = sub.Status
	r.SubscriptionPeriodEnd = &end
	r.State = StateForStatus(sub.Status)
	return r
}

// WithSubscriptionDeleted применяет удаление подписки; остальные поля сохраняются.
func (r EntitlementRecord) WithSubscriptionDeleted() EntitlementRecord {
	r.IsPremium = false
	r.SubscriptionStatus = SubscriptionStatusCanceled
	r.State = EntitlementStateCanceled
	return r
}

// WithNoActiveSubscription применяет результат живой проверки без активной подписки.
func (r EntitlementRecord) WithNoActiveSubscription() EntitlementRecord {
	r.IsPremium = false
	if r.State == EntitlementStatePremium {
		r.State = EntitlementStateExpired
	}
	return r
}

// WithEventAt запоминает время самого нового примененного события.
func (r EntitlementRecord) WithEventAt(at time.Time) EntitlementRecord {
	if at.IsZero() {
		return r
	}
	at = normalizeTime(at)
	if r.LastEventAt == nil || at.After(*r.LastEventAt) {
		r.LastEventAt = &at
	}
	return r
}

// Stamp выставляет следующую версию и время записи.
func (r EntitlementRecord) Stamp(version int64, now time.Time) EntitlementRecord {
	now = normalizeTime(now)
	r.Version = version
	r.UpdatedAt = &now
	return r
}

// normalizeTime обрезает время до точности, с которой оно хранится в метаданных.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func boolValue(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func intValue(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func timeValue(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		n := normalizeTime(t)
		return &n
	case *time.Time:
		if t == nil {
			return nil
		}
		n := normalizeTime(*t)
		return &n
	case string:
		if t == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		n := normalizeTime(parsed)
		return &n
	}
	return nil
}
