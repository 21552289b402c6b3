// Package services содержит сервис прав доступа: чтение состояния подписки
// с ленивыми переходами по времени и транзакционное применение платёжных событий.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/poc-paywall/internal/entitlement"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/metrics"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
	"github.com/magabrotheeeer/poc-paywall/internal/storage"
)

// Store - хранилище подписчиков, подписок и событий.
type Store interface {
	// GetSubscriber возвращает подписчика или models.ErrSubscriberNotFound.
	GetSubscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error)
	// CurrentSubscription возвращает текущую подписку или nil.
	CurrentSubscription(ctx context.Context, subscriberID string) (*models.Subscription, error)
	// CreateSubscriber создаёт подписчика; false - он уже существовал.
	CreateSubscriber(ctx context.Context, sub models.Subscriber, trial *models.Subscription) (bool, error)
	// ListEvents возвращает события подписчика по возрастанию номера.
	ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error)
	// WithSubscriberLock выполняет fn в транзакции, сериализованной по подписчику.
	WithSubscriberLock(ctx context.Context, subscriberID string, fn func(storage.Tx) error) error
}

// Cache описывает кеш состояния подписчика. Invalidate увеличивает
// поколение ключа; SetIfGeneration пишет, только если поколение не менялось.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Generation(ctx context.Context, key string) (int64, error)
	SetIfGeneration(ctx context.Context, key string, gen int64, value any, expiration time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

// Publisher отправляет уведомления об изменении прав доступа.
type Publisher interface {
	PublishEntitlementChanged(ctx context.Context, msg models.EntitlementChanged) error
}

// cachedState - то, что кладётся в кеш: сохранённые поля без разрешения по времени.
type cachedState struct {
	Subscriber   models.Subscriber    `json:"subscriber"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// EntitlementService - единственная точка чтения и изменения прав доступа.
type EntitlementService struct {
	store     Store
	cache     Cache
	cacheTTL  time.Duration
	publisher Publisher
	policy    entitlement.Policy
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
	log       *slog.Logger
}

// Option настраивает EntitlementService.
type Option func(*EntitlementService)

// WithCache включает кеш состояния с заданным временем жизни записей.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *EntitlementService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithPublisher включает публикацию EntitlementChanged после применения события.
func WithPublisher(p Publisher) Option {
	return func(s *EntitlementService) { s.publisher = p }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EntitlementService) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *EntitlementService) { s.now = now }
}

// NewEntitlementService создаёт сервис поверх хранилища.
func NewEntitlementService(log *slog.Logger, store Store, policy entitlement.Policy, opts ...Option) *EntitlementService {
	s := &EntitlementService{
		store:  store,
		policy: policy,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(subscriberID string) string {
	return "entitlement:subscriber:" + subscriberID
}

// GetState возвращает состояние подписки на момент at. Ничего не изменяет.
// Неизвестный подписчик - models.ErrSubscriberNotFound, подписчик без
// подписок - models.ErrNoSubscription (Snapshot при этом заполнен).
func (s *EntitlementService) GetState(ctx context.Context, subscriberID string, at time.Time) (models.Snapshot, error) {
	const op = "services.entitlement.GetState"

	st, err := s.load(ctx, subscriberID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	snap := models.Snapshot{
		SubscriberID:      subscriberID,
		At:                at,
		LastEventSequence: st.Subscriber.LastEventSequence,
	}
	if st.Subscription == nil {
		return snap, fmt.Errorf("%s: %w", op, models.ErrNoSubscription)
	}
	snap.State = entitlement.Resolve(*st.Subscription, at)
	snap.Subscription = *st.Subscription
	return snap, nil
}

// load читает состояние через кеш. Поколение ключа запоминается до чтения
// хранилища: если событие зафиксировано и кеш сброшен во время чтения,
// прочитанное состояние в кеш не попадает.
func (s *EntitlementService) load(ctx context.Context, subscriberID string) (*cachedState, error) {
	key := cacheKey(subscriberID)
	var (
		gen  int64
		fill bool
	)
	if s.cache != nil {
		var st cachedState
		found, err := s.cache.Get(ctx, key, &st)
		switch {
		case err != nil:
			s.metrics.IncCacheLookup("error")
			s.log.Warn("failed to read entitlement cache", slog.String("key", key), sl.Err(err))
		case found:
			s.metrics.IncCacheLookup("hit")
			return &st, nil
		default:
			s.metrics.IncCacheLookup("miss")
		}

		gen, err = s.cache.Generation(ctx, key)
		if err != nil {
			s.log.Warn("failed to read entitlement cache generation", slog.String("key", key), sl.Err(err))
		} else {
			fill = true
		}
	}

	subscriber, err := s.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.CurrentSubscription(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	st := &cachedState{Subscriber: *subscriber, Subscription: sub}

	if fill {
		stored, err := s.cache.SetIfGeneration(ctx, key, gen, st, s.cacheTTL)
		switch {
		case err != nil:
			s.log.Warn("failed to cache entitlement", slog.String("key", key), sl.Err(err))
		case !stored:
			s.log.Debug("entitlement changed during read, cache fill skipped", slog.String("key", key))
		}
	}
	return st, nil
}

// ApplyEvent применяет платёжное событие. Возвращает false без изменений,
// если событие с таким ID уже записано или его номер не больше последнего
// применённого. Запись события, подписки и номера фиксируются атомарно.
func (s *EntitlementService) ApplyEvent(ctx context.Context, ev models.PaymentEvent) (bool, error) {
	const op = "services.entitlement.ApplyEvent"
	log := s.log.With(slog.String("op", op), sl.Subscriber(ev.SubscriberID), sl.Event(ev))

	if err := validateEvent(ev); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var (
		applied bool
		change  entitlement.Change
	)
	err := s.store.WithSubscriberLock(ctx, ev.SubscriberID, func(tx storage.Tx) error {
		applied = false

		dup, err := tx.EventRecorded(ctx, ev.ID)
		if err != nil {
			return err
		}
		if dup {
			log.Debug("duplicate event skipped")
			return nil
		}
		if last := tx.Subscriber().LastEventSequence; ev.Sequence <= last {
			log.Info("stale event skipped", slog.Int64("last_sequence", last))
			return nil
		}

		current, err := tx.CurrentSubscription(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		ch, err := s.policy.Apply(current, ev, now, s.newID)
		if err != nil {
			return err
		}

		ev.RecordedAt = now
		if err := tx.RecordEvent(ctx, ev); err != nil {
			return err
		}
		if ch.Closed != nil {
			if err := tx.SaveSubscription(ctx, *ch.Closed, false); err != nil {
				return err
			}
		}
		if ch.Subscription != nil {
			if err := tx.SaveSubscription(ctx, *ch.Subscription, ch.Created); err != nil {
				return err
			}
		}
		if err := tx.SetLastEventSequence(ctx, ev.Sequence); err != nil {
			return err
		}

		applied = true
		change = ch
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.IncEvent(string(ev.Type), applied)
	if !applied {
		return false, nil
	}

	s.afterCommit(ctx, log, ev, change)
	return true, nil
}

// afterCommit сбрасывает кеш и публикует изменение. Ошибки только логируются:
// событие уже зафиксировано.
func (s *EntitlementService) afterCommit(ctx context.Context, log *slog.Logger, ev models.PaymentEvent, ch entitlement.Change) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cacheKey(ev.SubscriberID)); err != nil {
			log.Warn("failed to invalidate entitlement cache", sl.Err(err))
		}
	}

	if ch.Subscription == nil {
		log.Info("event recorded without subscription")
		return
	}
	state := entitlement.Resolve(*ch.Subscription, s.now())
	log.Info("event applied",
		slog.String("subscription_id", ch.Subscription.ID),
		slog.String("state", string(state)),
		slog.Bool("created", ch.Created),
	)

	if s.publisher == nil {
		return
	}
	msg := models.EntitlementChanged{
		SubscriberID:   ev.SubscriberID,
		SubscriptionID: ch.Subscription.ID,
		EventID:        ev.ID,
		EventType:      ev.Type,
		State:          state,
		Sequence:       ev.Sequence,
		PeriodEnd:      ch.Subscription.PeriodEnd,
		GraceUntil:     ch.Subscription.GraceUntil,
	}
	if err := s.publisher.PublishEntitlementChanged(ctx, msg); err != nil {
		log.Error("failed to publish entitlement change", sl.Err(err))
	}
}

// EnsureSubscriber регистрирует подписчика. Если настроен пробный период,
// новому подписчику сразу открывается пробная подписка.
// Возвращает false, если подписчик уже существовал.
func (s *EntitlementService) EnsureSubscriber(ctx context.Context, subscriberID string) (bool, error) {
	const op = "services.entitlement.EnsureSubscriber"
	if subscriberID == "" {
		return false, fmt.Errorf("%s: %w: empty subscriber id", op, models.ErrMalformed)
	}

	now := s.now()
	var trial *models.Subscription
	if s.policy.TrialPeriod > 0 {
		t := s.policy.NewTrial(s.newID(), subscriberID, now)
		trial = &t
	}

	created, err := s.store.CreateSubscriber(ctx, models.Subscriber{ID: subscriberID, CreatedAt: now}, trial)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if created {
		s.log.Info("subscriber registered", sl.Subscriber(subscriberID), slog.Bool("trial", trial != nil))
	}
	return created, nil
}

// ListEvents возвращает записанные события подписчика.
func (s *EntitlementService) ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error) {
	const op = "services.entitlement.ListEvents"
	events, err := s.store.ListEvents(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}

func validateEvent(ev models.PaymentEvent) error {
	switch {
	case ev.ID == "":
		return fmt.Errorf("%w: empty event id", models.ErrMalformed)
	case ev.SubscriberID == "":
		return fmt.Errorf("%w: empty subscriber id", models.ErrMalformed)
	case !ev.Type.Valid():
		return fmt.Errorf("%w: unknown event type %q", models.ErrMalformed, ev.Type)
	case ev.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", models.ErrMalformed)
	case ev.Sequence <= 0:
		return fmt.Errorf("%w: sequence must be positive", models.ErrMalformed)
	}
	return nil
}

// IsUnavailable сообщает, что ошибка GetState означает сбой хранилища,
// а не факт о правах подписчика.
func IsUnavailable(err error) bool {
	return err != nil &&
		!errors.Is(err, models.ErrSubscriberNotFound) &&
		!errors.Is(err, models.ErrNoSubscription)
}
