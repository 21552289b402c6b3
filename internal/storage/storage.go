// Package storage описывает контракт хранилища прав доступа, общий для
// PostgreSQL-репозитория и хранилища в памяти.
package storage

import (
	"context"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Tx - транзакция над одним подписчиком. Пока функция, получившая Tx,
// не вернула управление, другие транзакции того же подписчика ждут.
// Изменения становятся видны только после успешного завершения функции;
// при ошибке не применяется ничего.
type Tx interface {
	// Subscriber возвращает заблокированную запись подписчика.
	Subscriber() models.Subscriber
	// EventRecorded сообщает, записано ли событие с таким ID.
	EventRecorded(ctx context.Context, eventID string) (bool, error)
	// CurrentSubscription возвращает текущую подписку или nil.
	CurrentSubscription(ctx context.Context) (*models.Subscription, error)
	// RecordEvent сохраняет событие провайдера.
	RecordEvent(ctx context.Context, ev models.PaymentEvent) error
	// SaveSubscription вставляет (created) или обновляет подписку.
	SaveSubscription(ctx context.Context, sub models.Subscription, created bool) error
	// SetLastEventSequence сдвигает номер последнего применённого события.
	SetLastEventSequence(ctx context.Context, seq int64) error
}
