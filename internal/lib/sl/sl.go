// Package sl содержит вспомогательные функции для работы с логгером slog.
package sl

import (
	"log/slog"
	"os"

	"github.com/magabrotheeeer/poc-paywall/internal/models"
)

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
//
//	log.Error("failed to apply event", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Subscriber возвращает атрибут с ID подписчика.
func Subscriber(id string) slog.Attr {
	return slog.String("subscriber_id", id)
}

// Event группирует поля платёжного события для лога.
func Event(ev models.PaymentEvent) slog.Attr {
	return slog.Group("event",
		slog.String("id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.Int64("sequence", ev.Sequence),
	)
}

// SetupLogger создаёт логгер по окружению: local - текст с debug,
// dev - JSON с debug, остальные - JSON с info.
func SetupLogger(env string) *slog.Logger {
	switch env {
	case "local", "":
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case "dev":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
