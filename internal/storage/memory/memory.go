// Package memory - хранилище прав доступа в памяти процесса.
//
// Транзакции одного подписчика сериализуются мьютексом этого подписчика,
// разные подписчики обрабатываются параллельно. Изменения транзакции
// копятся в буфере и применяются целиком только при успешном завершении.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
	"github.com/magabrotheeeer/poc-paywall/internal/storage"
)

type subscriberData struct {
	mu sync.Mutex
	// exists становится true после первой успешной записи; до этого запись
	// только резервирует мьютекс подписчика.
	exists        bool
	subscriber    models.Subscriber
	subscriptions []models.Subscription
}

// Storage хранит подписчиков, подписки и события в памяти.
type Storage struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriberData
	events      map[string]models.PaymentEvent
	now         func() time.Time
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		subscribers: make(map[string]*subscriberData),
		events:      make(map[string]models.PaymentEvent),
		now:         time.Now,
	}
}

// Ping всегда успешен.
func (s *Storage) Ping(_ context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Storage) Close() error { return nil }

func (s *Storage) lookup(id string) (*subscriberData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.subscribers[id]
	return d, ok
}

// getOrCreate возвращает запись подписчика, создавая её при необходимости.
func (s *Storage) getOrCreate(id string, createdAt time.Time) (*subscriberData, bool) {
	if d, ok := s.lookup(id); ok {
		return d, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.subscribers[id]; ok {
		return d, false
	}
	d := &subscriberData{subscriber: models.Subscriber{ID: id, CreatedAt: createdAt}}
	s.subscribers[id] = d
	return d, true
}

// GetSubscriber возвращает подписчика по ID.
func (s *Storage) GetSubscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error) {
	const op = "memory.GetSubscriber"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d, ok := s.lookup(subscriberID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSubscriberNotFound)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.exists {
		return nil, fmt.Errorf("%s: %w", op, models.ErrSubscriberNotFound)
	}
	sub := d.subscriber
	return &sub, nil
}

// CurrentSubscription возвращает текущую подписку подписчика или nil.
func (s *Storage) CurrentSubscription(ctx context.Context, subscriberID string) (*models.Subscription, error) {
	const op = "memory.CurrentSubscription"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	d, ok := s.lookup(subscriberID)
	if !ok {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.exists {
		return nil, nil
	}
	return current(d.subscriptions), nil
}

// CreateSubscriber создаёт подписчика и его пробную подписку.
func (s *Storage) CreateSubscriber(ctx context.Context, sub models.Subscriber, trial *models.Subscription) (bool, error) {
	const op = "memory.CreateSubscriber"
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	d, _ := s.getOrCreate(sub.ID, sub.CreatedAt)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exists {
		return false, nil
	}
	d.exists = true
	d.subscriber = sub
	if trial != nil {
		d.subscriptions = append(d.subscriptions, *trial)
	}
	return true, nil
}

// ListEvents возвращает события подписчика по возрастанию номера.
func (s *Storage) ListEvents(ctx context.Context, subscriberID string) ([]models.PaymentEvent, error) {
	const op = "memory.ListEvents"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.RLock()
	var result []models.PaymentEvent
	for _, ev := range s.events {
		if ev.SubscriberID == subscriberID {
			result = append(result, ev)
		}
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

// WithSubscriberLock выполняет fn под мьютексом подписчика.
func (s *Storage) WithSubscriberLock(ctx context.Context, subscriberID string, fn func(storage.Tx) error) error {
	const op = "memory.WithSubscriberLock"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	d, _ := s.getOrCreate(subscriberID, s.now())
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &memTx{
		store:      s,
		subscriber: d.subscriber,
		subs:       append([]models.Subscription(nil), d.subscriptions...),
	}
	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !tx.dirty {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Фиксация: событие, подписки и номер применяются вместе.
	s.mu.Lock()
	for _, ev := range tx.events {
		if _, dup := s.events[ev.ID]; dup {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", op, &models.ConflictError{SubscriberID: subscriberID, EventID: ev.ID, Err: fmt.Errorf("event %s already recorded", ev.ID)})
		}
	}
	for _, ev := range tx.events {
		s.events[ev.ID] = ev
	}
	s.mu.Unlock()
	d.exists = true
	d.subscriber = tx.subscriber
	d.subscriptions = tx.subs
	return nil
}

func current(subs []models.Subscription) *models.Subscription {
	var latest *models.Subscription
	for i := range subs {
		sub := subs[i]
		if sub.State == models.StateTrial || sub.State == models.StateActive {
			return &sub
		}
		latest = &sub
	}
	return latest
}

// memTx копит изменения до фиксации. Транзакция без записей не фиксируется.
type memTx struct {
	store      *Storage
	subscriber models.Subscriber
	subs       []models.Subscription
	events     []models.PaymentEvent
	dirty      bool
}

func (t *memTx) Subscriber() models.Subscriber { return t.subscriber }

func (t *memTx) EventRecorded(_ context.Context, eventID string) (bool, error) {
	for _, ev := range t.events {
		if ev.ID == eventID {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.events[eventID]
	return ok, nil
}

func (t *memTx) CurrentSubscription(_ context.Context) (*models.Subscription, error) {
	return current(t.subs), nil
}

func (t *memTx) RecordEvent(_ context.Context, ev models.PaymentEvent) error {
	t.events = append(t.events, ev)
	t.dirty = true
	return nil
}

func (t *memTx) SaveSubscription(_ context.Context, sub models.Subscription, created bool) error {
	if created {
		if cur := current(t.subs); cur != nil && !cur.State.Terminal() {
			return fmt.Errorf("memory.SaveSubscription: subscriber %s already has open subscription %s", sub.SubscriberID, cur.ID)
		}
		t.subs = append(t.subs, sub)
		t.dirty = true
		return nil
	}
	for i := range t.subs {
		if t.subs[i].ID == sub.ID {
			t.subs[i] = sub
			t.dirty = true
			return nil
		}
	}
	return fmt.Errorf("memory.SaveSubscription: subscription %s not found", sub.ID)
}

func (t *memTx) SetLastEventSequence(_ context.Context, seq int64) error {
	t.subscriber.LastEventSequence = seq
	t.dirty = true
	return nil
}
