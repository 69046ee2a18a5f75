package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/billing-sync/internal/lib/sl"
)

// Ledger определяет журнал обработанных событий,
// обеспечивающий дедупликацию доставок.
type Ledger interface {
	// ClaimEvent атомарно занимает идентификатор события.
	ClaimEvent(ctx context.Context, eventID string) (bool, error)
	// ReleaseEvent снимает занятие после провала обработки.
	ReleaseEvent(ctx context.Context, eventID string) error
}

// Outcome — исход обработки одного события.
type Outcome string

const (
	// OutcomeProcessed — событие занято и применено.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped — дубликат, штатный пропуск без ошибки.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed — обработка провалилась, занятие снято,
	// повторная доставка сможет обработать событие заново.
	OutcomeFailed Outcome = "failed"
)

// Dispatcher гарантирует, что бизнес-обработка события выполнится не более
// одного раза. Состояния идентификатора: незанят -> занят -> {применён | снят}.
// Занятие фиксируется в журнале до начала работы, поэтому две конкурентные
// доставки одного события не могут обе пройти проверку.
type Dispatcher struct {
	ledger Ledger
	log    *slog.Logger
}

// NewDispatcher создает новый экземпляр Dispatcher.
func NewDispatcher(ledger Ledger, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger: ledger,
		log:    log,
	}
}

// Process занимает eventID и выполняет work. Провал work компенсируется
// снятием занятия — событие не останется занятым навсегда даже при отмене
// контекста посреди обработки.
func (d *Dispatcher) Process(ctx context.Context, eventID string, work func(ctx context.Context) error) (Outcome, error) {
	const op = "event.Process"

	claimed, err := d.ledger.ClaimEvent(ctx, eventID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		d.log.Info("duplicate event delivery skipped", slog.String("event_id", eventID))
		return OutcomeSkipped, nil
	}

	if err := work(ctx); err != nil {
		// Снятие занятия обязано пройти даже когда ctx уже отменён,
		// иначе событие навсегда останется занятым без применения.
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := d.ledger.ReleaseEvent(releaseCtx, eventID); relErr != nil {
			d.log.Error("failed to release event claim", slog.String("event_id", eventID), sl.Err(relErr))
		}
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	return OutcomeProcessed, nil
}
