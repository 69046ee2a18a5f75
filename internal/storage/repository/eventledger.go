package repository

import (
	"context"
	"fmt"
)

// ClaimEvent атомарно занимает идентификатор события. Возвращает claimed=true,
// если идентификатор встретился впервые, и claimed=false для дубликата.
// Реализовано одной вставкой под уникальным ограничением — никакой проверки
// существования перед вставкой, иначе две конкурентные доставки одного события
// могли бы обе пройти проверку.
func (s *Storage) ClaimEvent(ctx context.Context, eventID string) (bool, error) {
	const op = "storage.ClaimEvent"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO processed_events (event_id) VALUES ($1)`
	_, err := s.DB.ExecContext(ctx, query, eventID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// ReleaseEvent снимает занятие идентификатора. Используется только как
// компенсация, когда обработка события провалилась после успешного ClaimEvent:
// повторная доставка того же события сможет занять идентификатор заново.
func (s *Storage) ReleaseEvent(ctx context.Context, eventID string) error {
	const op = "storage.ReleaseEvent"

	query := `DELETE FROM processed_events WHERE event_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, eventID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
