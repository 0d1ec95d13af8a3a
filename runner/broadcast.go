package runner

import (
	"context"
	"time"

	"github.com/gruis/pricebot/fetcher"
	log "github.com/sirupsen/logrus"
)

// DefaultBroadcastTimeout bounds a single broadcast, backoff included.
const DefaultBroadcastTimeout = 2 * time.Minute

// Broadcast posts a price report to a chat each time it runs. It implements
// cron.Job.
type Broadcast struct {
	Chat      int64
	Quoter    Quoter
	Publisher Publisher
	Request   fetcher.Request
	Timeout   time.Duration
}

func NewBroadcast(b Broadcast) *Broadcast {
	if b.Timeout <= 0 {
		b.Timeout = DefaultBroadcastTimeout
	}
	return &b
}

func (b *Broadcast) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), b.Timeout)
	defer cancel()

	logger := log.WithField("chat", b.Chat)
	report := b.Quoter.Fetch(ctx, b.Request)
	if report.Outcome != fetcher.Success {
		logger.WithField("outcome", report.Outcome).Warn("broadcasting failure report")
	}
	if err := b.Publisher.Publish(b.Chat, report.Text); err != nil {
		logger.WithError(err).Error("failed to publish price broadcast")
		return
	}
	logger.WithField("attempts", report.Attempts).Info("price broadcast published")
}
