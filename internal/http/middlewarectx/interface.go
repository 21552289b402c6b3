package middlewarectx

import (
	"context"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Gate принимает решение о доступе подписчика.
type Gate interface {
	Authorize(ctx context.Context, subscriberID, presentedToken string) models.Decision
}
