package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/gruis/pricebot/fetcher"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var InvalidSchedule = errors.New("broadcast schedule cannot be parsed")

// Publisher delivers text to a chat.
type Publisher interface {
	Publish(chat int64, text string) error
}

type Quoter interface {
	Fetch(ctx context.Context, req fetcher.Request) fetcher.Report
}

// Schedule returns a stopped cron that runs job on spec. The spec includes a
// leading seconds field, e.g. "0 0 9 * * *". A run that is still going when
// the next one is due causes that next run to be skipped.
func Schedule(spec string, job cron.Job) (*cron.Cron, error) {
	logger := cronLogger{log.WithField("schedule", spec)}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddJob(spec, job); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", InvalidSchedule, spec, err)
	}
	return c, nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *log.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
