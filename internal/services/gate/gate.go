// Package gate принимает решение о доступе на каждый запрос: сначала по
// предъявленному токену, иначе по хранилищу прав доступа. При сбое хранилища
// доступ закрывается с отдельной причиной store_unavailable.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/poc-paywall/internal/lib/jwt"
	"github.com/magabrotheeeer/poc-paywall/internal/lib/sl"
	"github.com/magabrotheeeer/poc-paywall/internal/metrics"
	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// StateReader читает состояние подписки на момент at.
type StateReader interface {
	GetState(ctx context.Context, subscriberID string, at time.Time) (models.Snapshot, error)
}

// TokenIssuer выпускает и проверяет токены доступа.
type TokenIssuer interface {
	Mint(subscriberID, decision string, seq int64) (string, time.Time, error)
	Verify(token string) (*jwt.Claims, error)
}

// Gate - точка принятия решения о доступе.
type Gate struct {
	log          *slog.Logger
	store        StateReader
	issuer       TokenIssuer
	storeTimeout time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// New создаёт Gate. storeTimeout ограничивает чтение из хранилища.
func New(log *slog.Logger, store StateReader, issuer TokenIssuer, storeTimeout time.Duration, m *metrics.Metrics) *Gate {
	return &Gate{
		log:          log,
		store:        store,
		issuer:       issuer,
		storeTimeout: storeTimeout,
		metrics:      m,
		now:          time.Now,
	}
}

// Authorize возвращает решение для подписчика. Действительный токен того же
// подписчика принимается без обращения к хранилищу; отсутствующий, подделанный
// или истёкший токен ведёт к чтению состояния.
func (g *Gate) Authorize(ctx context.Context, subscriberID, presentedToken string) models.Decision {
	const op = "services.gate.Authorize"
	log := g.log.With(slog.String("op", op), sl.Subscriber(subscriberID))

	if presentedToken != "" {
		if d, ok := g.fromToken(log, subscriberID, presentedToken); ok {
			g.metrics.IncDecision(string(d.Reason), string(d.Source))
			return d
		}
	}

	d := g.fromStore(ctx, log, subscriberID)
	g.metrics.IncDecision(string(d.Reason), string(d.Source))
	return d
}

func (g *Gate) fromToken(log *slog.Logger, subscriberID, token string) (models.Decision, bool) {
	claims, err := g.issuer.Verify(token)
	if err != nil {
		log.Debug("presented token rejected, falling back to store", sl.Err(err))
		return models.Decision{}, false
	}
	if claims.Subject != subscriberID {
		log.Warn("presented token issued for another subscriber")
		return models.Decision{}, false
	}

	d := models.Decision{
		SubscriberID: subscriberID,
		Granted:      claims.Granted(),
		Source:       models.SourceToken,
		Token:        token,
	}
	if claims.ExpiresAt != nil {
		d.ExpiresAt = claims.ExpiresAt.Time
	}
	if d.Granted {
		d.Reason = models.ReasonEntitled
	} else {
		d.Reason = models.ReasonNotEntitled
	}
	return d, true
}

func (g *Gate) fromStore(ctx context.Context, log *slog.Logger, subscriberID string) models.Decision {
	d := models.Decision{SubscriberID: subscriberID, Source: models.SourceStore}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	now := g.now()
	start := time.Now()
	snap, err := g.store.GetState(ctx, subscriberID, now)
	g.metrics.ObserveStoreRead(time.Since(start))

	switch {
	case errors.Is(err, models.ErrSubscriberNotFound), errors.Is(err, models.ErrNoSubscription):
		d.Reason = models.ReasonNoSubscription
		return d
	case err != nil:
		log.Error("entitlement store unavailable, denying access", sl.Err(err))
		d.Reason = models.ReasonStoreUnavailable
		return d
	}

	d.State = snap.State
	if !snap.State.Entitled() {
		d.Reason = models.ReasonNotEntitled
		return d
	}

	d.Granted = true
	d.Reason = models.ReasonEntitled
	token, expiresAt, err := g.issuer.Mint(subscriberID, jwt.DecisionGranted, snap.LastEventSequence)
	if err != nil {
		// Решение уже получено из хранилища; без токена следующий запрос просто пойдёт в хранилище.
		g.metrics.IncMintFailure()
		log.Error("failed to mint access token", sl.Err(err))
		return d
	}
	d.Token = token
	d.ExpiresAt = expiresAt
	return d
}
