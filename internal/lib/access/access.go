// Package access вычисляет право платного доступа по записи подписки.
// Функции чистые: без базы данных и сети, только запись и текущее время.
package access

import (
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// HasPaidAccess возвращает true, если подписка даёт платный доступ в момент now.
// Статусы trialing и active дают доступ всегда. Отменённая подписка сохраняет
// доступ до конца уже оплаченного периода (grace-период после отмены).
// Отсутствие записи означает отсутствие доступа, а не ошибку.
func HasPaidAccess(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case models.StatusTrialing, models.StatusActive:
		return true
	case models.StatusCanceled:
		return sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now)
	}
	return false
}
