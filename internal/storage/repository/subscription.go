package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// UpsertSubscription вставляет или обновляет запись подписки одной атомарной
// операцией. Обновление применяется ТОЛЬКО если метка provider_updated_at
// входящего снимка строго больше сохранённой — так переупорядоченная доставка
// событий не откатывает запись к устаревшим данным. Частичные снимки
// (например, из события оплаты инвойса) не затирают информационные поля:
// пустые значения сохраняют прежние данные строки.
// Возвращает applied=false, если запись отклонена проверкой упорядочивания.
func (s *Storage) UpsertSubscription(ctx context.Context, sub models.Subscription) (bool, error) {
	const op = "storage.UpsertSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_uid, provider_subscription_id, status,
			      current_period_end, cancel_at_period_end, trial_end, product_id,
			      amount, currency, recurring_interval, interval_count, provider_updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			  ON CONFLICT (provider_subscription_id) DO UPDATE SET
			      user_uid             = COALESCE(NULLIF(EXCLUDED.user_uid, ''), subscriptions.user_uid),
			      status               = EXCLUDED.status,
			      current_period_end   = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			      cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			      trial_end            = COALESCE(EXCLUDED.trial_end, subscriptions.trial_end),
			      product_id           = COALESCE(NULLIF(EXCLUDED.product_id, ''), subscriptions.product_id),
			      amount               = CASE WHEN EXCLUDED.amount > 0 THEN EXCLUDED.amount ELSE subscriptions.amount END,
			      currency             = COALESCE(NULLIF(EXCLUDED.currency, ''), subscriptions.currency),
			      recurring_interval   = COALESCE(NULLIF(EXCLUDED.recurring_interval, ''), subscriptions.recurring_interval),
			      interval_count       = CASE WHEN EXCLUDED.interval_count > 0 THEN EXCLUDED.interval_count ELSE subscriptions.interval_count END,
			      provider_updated_at  = EXCLUDED.provider_updated_at,
			      updated_at           = now()
			  WHERE subscriptions.provider_updated_at < EXCLUDED.provider_updated_at`
	result, err := s.DB.ExecContext(ctx, query,
		sub.UserUID, sub.ProviderSubscriptionID, sub.Status,
		sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.TrialEnd, sub.ProductID,
		sub.Amount, sub.Currency, sub.Interval, sub.IntervalCount, sub.ProviderUpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%s: %w", op, ErrConflict)
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// MarkSubscriptionCanceled помечает подписку отменённой, не трогая остальные
// поля — строка сохраняется для аудита и grace-оценки доступа. Действует та же
// проверка упорядочивания, что и в UpsertSubscription: отмена с меткой, не
// превосходящей сохранённую, отбрасывается как устаревшая.
func (s *Storage) MarkSubscriptionCanceled(ctx context.Context, providerSubscriptionID string, providerUpdatedAt int64) (bool, error) {
	const op = "storage.MarkSubscriptionCanceled"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $3, provider_updated_at = $2, updated_at = now()
			  WHERE provider_subscription_id = $1 AND provider_updated_at < $2`
	result, err := s.DB.ExecContext(ctx, query, providerSubscriptionID, providerUpdatedAt, models.StatusCanceled)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// FindSubscriptionByProviderID возвращает запись по натуральному ключу провайдера.
func (s *Storage) FindSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	const op = "storage.FindSubscriptionByProviderID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := selectSubscription + ` WHERE provider_subscription_id = $1`
	row := s.DB.QueryRowContext(ctx, query, providerSubscriptionID)

	result, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindSubscriptionByUserUID возвращает актуальную подписку пользователя.
// У пользователя может быть несколько записей за всю историю — текущей
// считается запись с наибольшей меткой провайдера.
func (s *Storage) FindSubscriptionByUserUID(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "storage.FindSubscriptionByUserUID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := selectSubscription + ` WHERE user_uid = $1 ORDER BY provider_updated_at DESC LIMIT 1`
	row := s.DB.QueryRowContext(ctx, query, userUID)

	result, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListSubscriptions возвращает все записи подписок для реконсиляции.
func (s *Storage) ListSubscriptions(ctx context.Context) ([]*models.Subscription, error) {
	const op = "storage.ListSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := selectSubscription + ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Subscription
	for rows.Next() {
		item, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

const selectSubscription = `SELECT id, user_uid, provider_subscription_id, status,
			current_period_end, cancel_at_period_end, trial_end, product_id,
			amount, currency, recurring_interval, interval_count,
			provider_updated_at, created_at, updated_at
		FROM subscriptions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var item models.Subscription
	err := row.Scan(&item.ID, &item.UserUID, &item.ProviderSubscriptionID, &item.Status,
		&item.CurrentPeriodEnd, &item.CancelAtPeriodEnd, &item.TrialEnd, &item.ProductID,
		&item.Amount, &item.Currency, &item.Interval, &item.IntervalCount,
		&item.ProviderUpdatedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
