// Package models содержит доменные структуры подписчика, платежа
// и ключа доступа. Используются в бизнес-логике и при работе с хранилищем.
package models

import "time"

// Статусы подписки. SubscriptionStatus — кэш последнего известного
// класса ключа; источником истины о действительности доступа является
// KeyExpiry.
const (
	SubscriptionNone    = "none"
	SubscriptionTrial   = "trial"
	SubscriptionPremium = "premium"
)

// Subscriber представляет пользователя бота и его текущее состояние
// подписки. Записи создаются при первом обращении и никогда не
// удаляются.
type Subscriber struct {
	TelegramID string // Стабильный внешний идентификатор пользователя
	Username   string
	FirstName  string
	LastName   string

	SubscriptionStatus string
	TrialUsed          bool // Однократный флаг, назад не сбрасывается

	// Текущий ключ доступа на панели. Пустой ClientUUID означает, что
	// ключ не выдавался.
	ClientUUID  string
	ClientLabel string
	InboundID   int
	KeyExpiry   *time.Time

	LastPaymentID     string
	LastPaymentStatus string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasActiveKey сообщает, действителен ли текущий ключ на момент now.
func (s *Subscriber) HasActiveKey(now time.Time) bool {
	return s.ClientUUID != "" && s.KeyExpiry != nil && now.Before(*s.KeyExpiry)
}

// AccessKey — выданный ключ доступа, возвращается вызывающему слою
// для показа пользователю.
type AccessKey struct {
	ClientUUID string
	Link       string
	ExpiresAt  time.Time
}
