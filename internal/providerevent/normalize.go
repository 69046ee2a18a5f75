// Package providerevent нормализует разнородные webhook-события платёжного
// провайдера в канонический снимок подписки. Пакет чистый: не обращается
// к хранилищу и сети, поэтому тестируется изолированно. Это единственное
// место, где разбираются формы событий провайдера — и webhook-конвейер,
// и reconciler используют одну и ту же трансформацию.
package providerevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

// Типы событий провайдера, которые обрабатывает подсистема.
// Остальные типы игнорируются (событие при этом помечается обработанным).
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventChargeRefunded      = "charge.refunded"
)

// Envelope — конверт webhook-события: {id, type, data: {object: {...}}}.
// Проверка подписи выполняется HTTP-слоем до декодирования конверта.
type Envelope struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Action определяет, что делать с результатом нормализации.
type Action int

const (
	// ActionSkip — событие не относится к подпискам, применять нечего.
	ActionSkip Action = iota
	// ActionUpsert — записать снимок подписки с проверкой упорядочивания.
	ActionUpsert
	// ActionCancel — пометить подписку отменённой, сохранив остальные поля.
	ActionCancel
)

// Instruction — инструкция применения события к хранилищу.
type Instruction struct {
	Action                 Action
	Subscription           *models.Subscription // заполнено при ActionUpsert
	ProviderSubscriptionID string               // заполнено при ActionCancel
	ProviderUpdatedAt      int64                // метка провайдера для ActionCancel
}

// SubscriptionObject — объект подписки в том виде, как его отдаёт провайдер:
// и внутри webhook-события, и в ответе API при реконсиляции.
type SubscriptionObject struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	TrialEnd          *int64 `json:"trial_end"`
	Plan              struct {
		ID            string `json:"id"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
		Interval      string `json:"interval"`
		IntervalCount int    `json:"interval_count"`
	} `json:"plan"`
	Metadata  map[string]string `json:"metadata"`
	Created   int64             `json:"created"`
	UpdatedAt int64             `json:"updated_at"`
}

type invoiceObject struct {
	Subscription string            `json:"subscription"`
	AmountPaid   int64             `json:"amount_paid"`
	Currency     string            `json:"currency"`
	PeriodEnd    *int64            `json:"period_end"`
	Metadata     map[string]string `json:"metadata"`
	Created      int64             `json:"created"`
}

type chargeObject struct {
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Created      int64             `json:"created"`
}

var knownStatuses = map[string]struct{}{
	models.StatusTrialing:   {},
	models.StatusActive:     {},
	models.StatusPastDue:    {},
	models.StatusCanceled:   {},
	models.StatusIncomplete: {},
	models.StatusUnpaid:     {},
}

// Normalize превращает событие провайдера в инструкцию для хранилища.
// Незнакомый тип события — штатный пропуск (ActionSkip, nil). Известный тип
// с нераспознаваемым содержимым возвращает ActionSkip вместе с ошибкой:
// вызывающая сторона логирует её, но событие считается обработанным —
// повторная доставка заведомо неразбираемого события бессмысленна.
func Normalize(env Envelope) (*Instruction, error) {
	const op = "providerevent.Normalize"

	switch env.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: %w", op, err)
		}
		sub, err := SubscriptionFromObject(&obj)
		if err != nil {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: %w", op, err)
		}
		return &Instruction{Action: ActionUpsert, Subscription: sub}, nil

	case EventSubscriptionDeleted:
		var obj SubscriptionObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: %w", op, err)
		}
		if obj.ID == "" {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: missing subscription id", op)
		}
		return &Instruction{
			Action:                 ActionCancel,
			ProviderSubscriptionID: obj.ID,
			ProviderUpdatedAt:      providerTimestamp(obj.UpdatedAt, obj.Created),
		}, nil

	case EventInvoicePaid:
		var inv invoiceObject
		if err := json.Unmarshal(env.Data.Object, &inv); err != nil {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: %w", op, err)
		}
		if inv.Subscription == "" {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: invoice without subscription", op)
		}
		// Инвойс несёт только часть полей: оплата продлевает период,
		// остальные поля сохраняет условный upsert в хранилище.
		sub := &models.Subscription{
			UserUID:                inv.Metadata["user_uid"],
			ProviderSubscriptionID: inv.Subscription,
			Status:                 models.StatusActive,
			CurrentPeriodEnd:       epochTime(inv.PeriodEnd),
			Amount:                 inv.AmountPaid,
			Currency:               inv.Currency,
			ProviderUpdatedAt:      inv.Created,
		}
		return &Instruction{Action: ActionUpsert, Subscription: sub}, nil

	case EventChargeRefunded:
		var ch chargeObject
		if err := json.Unmarshal(env.Data.Object, &ch); err != nil {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: %w", op, err)
		}
		subID := ch.Subscription
		if subID == "" {
			subID = ch.Metadata["subscription_id"]
		}
		if subID == "" {
			return &Instruction{Action: ActionSkip}, fmt.Errorf("%s: refund without subscription", op)
		}
		return &Instruction{
			Action:                 ActionCancel,
			ProviderSubscriptionID: subID,
			ProviderUpdatedAt:      ch.Created,
		}, nil
	}

	return &Instruction{Action: ActionSkip}, nil
}

// SubscriptionFromObject преобразует объект провайдера в доменную запись.
// Используется и при нормализации событий, и при реконсиляции снимков,
// чтобы существовал ровно один путь преобразования.
func SubscriptionFromObject(obj *SubscriptionObject) (*models.Subscription, error) {
	const op = "providerevent.SubscriptionFromObject"

	if obj.ID == "" {
		return nil, fmt.Errorf("%s: missing subscription id", op)
	}
	if _, ok := knownStatuses[obj.Status]; !ok {
		return nil, fmt.Errorf("%s: unknown status %q", op, obj.Status)
	}
	return &models.Subscription{
		UserUID:                obj.Metadata["user_uid"],
		ProviderSubscriptionID: obj.ID,
		Status:                 obj.Status,
		CurrentPeriodEnd:       epochTime(obj.CurrentPeriodEnd),
		CancelAtPeriodEnd:      obj.CancelAtPeriodEnd,
		TrialEnd:               epochTime(obj.TrialEnd),
		ProductID:              obj.Plan.ID,
		Amount:                 obj.Plan.Amount,
		Currency:               obj.Plan.Currency,
		Interval:               obj.Plan.Interval,
		IntervalCount:          obj.Plan.IntervalCount,
		ProviderUpdatedAt:      providerTimestamp(obj.UpdatedAt, obj.Created),
	}, nil
}

func providerTimestamp(updatedAt, created int64) int64 {
	if updatedAt > 0 {
		return updatedAt
	}
	return created
}

func epochTime(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
