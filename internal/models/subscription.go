// Package models содержит доменные структуры подписки и связанные типы,
// используемые бизнес-логикой, хранилищем и обработчиками.
package models

import "time"

// Статусы подписки, которые сообщает платёжный провайдер.
const (
	StatusTrialing   = "trialing"
	StatusActive     = "active"
	StatusPastDue    = "past_due"
	StatusCanceled   = "canceled"
	StatusIncomplete = "incomplete"
	StatusUnpaid     = "unpaid"
)

// Subscription представляет собой локальную запись подписки пользователя —
// одна строка на provider_subscription_id. Поле ProviderUpdatedAt хранит
// метку времени провайдера (epoch seconds) и служит ключом упорядочивания:
// запись никогда не перезаписывается данными с меньшей или равной меткой.
type Subscription struct {
	ID                     int        // Локальный ID строки
	UserUID                string     // Владелец подписки
	ProviderSubscriptionID string     // Натуральный ключ, присвоенный провайдером
	Status                 string     // Один из статусов выше
	CurrentPeriodEnd       *time.Time // Конец оплаченного периода, может отсутствовать
	CancelAtPeriodEnd      bool       // Отмена запланирована на конец периода
	TrialEnd               *time.Time // Конец пробного периода, может отсутствовать
	ProductID              string     // Идентификатор тарифа
	Amount                 int64      // Цена в минорных единицах, информационно
	Currency               string     // Валюта цены
	Interval               string     // Интервал списания (month, year)
	IntervalCount          int        // Количество интервалов между списаниями
	ProviderUpdatedAt      int64      // Метка времени провайдера, ключ упорядочивания
	CreatedAt              time.Time  // Локальное время создания строки
	UpdatedAt              time.Time  // Локальное время последнего изменения
}

// AccessStatus — производное состояние доступа пользователя,
// отдаётся наружу через /access/{userUID}.
type AccessStatus struct {
	HasPaidAccess bool          `json:"has_paid_access"`
	Subscription  *Subscription `json:"subscription,omitempty"`
}

// SubscriptionChange — уведомление о применённом изменении подписки,
// публикуется в RabbitMQ для downstream-воркеров.
type SubscriptionChange struct {
	ProviderSubscriptionID string `json:"provider_subscription_id"`
	UserUID                string `json:"user_uid"`
	Status                 string `json:"status"`
	Source                 string `json:"source"` // webhook, reconciler или local
}
