package bot

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

const loggerKey = "logger"

// logRequests attaches a logger carrying a request id to the context and logs
// every handled update.
func (b *Bot) logRequests(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		fields := log.Fields{
			"request": uuid.NewString(),
			"command": c.Text(),
		}
		if chat := c.Chat(); chat != nil {
			fields["chat"] = chat.ID
		}
		logger := log.WithFields(fields)
		c.Set(loggerKey, logger)

		err := next(c)
		logger.WithField("duration", time.Since(start)).Info("handled update")
		return err
	}
}

func requestLogger(c tele.Context) *log.Entry {
	if logger, ok := c.Get(loggerKey).(*log.Entry); ok {
		return logger
	}
	return log.NewEntry(log.StandardLogger())
}
