package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var UnknownLogOutput = errors.New("unknown log output")

// logOutputs are the destinations accepted by the log-output key.
var logOutputs = map[string]io.Writer{
	"stdout": os.Stdout,
	"stderr": os.Stderr,
}

type LogConfig struct {
	Level  string
	JSON   bool
	Text   bool
	Output io.Writer
	// Caller adds the calling function and file to every entry.
	Caller bool
}

// LogOutput resolves a log-output value ("stdout" or "stderr").
func LogOutput(name string) (io.Writer, error) {
	w, ok := logOutputs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want stdout or stderr)", UnknownLogOutput, name)
	}
	return w, nil
}

// SetLevel applies the configured level, falling back to the default level
// when it cannot be parsed.
func (lc LogConfig) SetLevel() {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		log.WithError(err).
			WithFields(log.Fields{"level": lc.Level, "default": defLogConfig.Level}).
			Info("using default log level")
		level = log.InfoLevel
		if def, derr := log.ParseLevel(defLogConfig.Level); derr == nil {
			level = def
		}
	}
	log.SetLevel(level)
}

// SetFormat picks the formatter; JSON wins when both formats are requested.
func (lc *LogConfig) SetFormat() {
	switch {
	case lc.JSON:
		log.SetFormatter(&log.JSONFormatter{})
		lc.Text = false
	case lc.Text:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func (lc LogConfig) Set() {
	lc.SetFormat()
	lc.SetLevel()
	if lc.Output != nil {
		log.SetOutput(lc.Output)
	}
	log.SetReportCaller(lc.Caller)

	log.WithFields(log.Fields{
		"json":   lc.JSON,
		"text":   lc.Text,
		"level":  lc.Level,
		"caller": lc.Caller,
	}).Debug("log configured")
}

// logConfig reads the log keys from viper.
func logConfig() (LogConfig, error) {
	lc := LogConfig{
		Level:  viper.GetString("log-level"),
		JSON:   viper.GetBool("log-json"),
		Text:   viper.GetBool("log-text"),
		Caller: viper.GetBool("log-caller"),
		Output: defLogConfig.Output,
	}
	if name := viper.GetString("log-output"); name != "" {
		w, err := LogOutput(name)
		if err != nil {
			return lc, err
		}
		lc.Output = w
	}
	return lc, nil
}

// setLogger is a ChangeHandler so the log settings follow config file edits.
// An unusable log-output keeps the current output and is reported.
func setLogger() error {
	lc, err := logConfig()
	if err != nil {
		lc.Output = nil
	}
	lc.Set()
	return err
}
