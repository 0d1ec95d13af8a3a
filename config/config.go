package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ChangeHandler func() error

var (
	handlersMu     sync.Mutex
	changeHandlers = map[string]ChangeHandler{}
)

// OnChange registers a handler that runs after every (re)load of the
// configuration. Registering a second handler under the same name replaces
// the first.
func OnChange(name string, handler ChangeHandler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	if _, exists := changeHandlers[name]; exists {
		log.WithField("handler", name).Warn("config change handler reassigned")
	}
	changeHandlers[name] = handler
	log.WithField("handler", name).Debug("added config change handler")
}

func changed() {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	for name, handler := range changeHandlers {
		if err := handler(); err != nil {
			log.WithError(err).
				WithField("handler", name).
				Error("config handler failed")
		}
	}
}

var flagsOnce = sync.Once{}
var defLogConfig = LogConfig{
	Level:  "info",
	JSON:   false,
	Text:   true,
	Output: os.Stdout,
}

func AddStringSlice(name string, defVal []string, help string) {
	flag.StringSlice(name, defVal, help)
}

func AddString(name, defVal, help string) {
	flag.String(name, defVal, help)
}

func AddInt(name string, defVal int, help string) {
	flag.Int(name, defVal, help)
}

func AddInt64(name string, defVal int64, help string) {
	flag.Int64(name, defVal, help)
}

func AddBool(name string, defVal bool, help string) {
	flag.Bool(name, defVal, help)
}

func AddDuration(name string, defVal time.Duration, help string) {
	flag.Duration(name, defVal, help)
}

func addVars() {
	AddString("log-level", defLogConfig.Level, "show logs at or above this level; choices: trace, debug, info, warn, error, fatal, panic")
	AddBool("log-text", defLogConfig.Text, "log in text format")
	AddBool("log-json", defLogConfig.JSON, "log in json format")
	AddString("log-output", "stdout", "where logs are written: stdout or stderr")
	AddBool("log-caller", defLogConfig.Caller, "include the calling function in log entries")
}

// dynConfigFileName builds a configuration file name from components that
// may be empty, e.g. {"config", ""} is "config" and {"config", "prod"} is
// "config.prod".
type dynConfigFileName []string

func (c dynConfigFileName) String() string {
	var r []string
	for _, str := range c {
		if str != "" {
			r = append(r, str)
		}
	}
	return strings.Join(r, ".")
}

// loadDotEnv exports the variables of a .env file in the working directory
// unless they are already set.
func loadDotEnv() {
	err := godotenv.Load()
	switch {
	case err == nil:
		log.Debug("loaded .env file")
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("no .env file found, using process environment")
	default:
		log.WithError(err).Warn("failed to load .env file")
	}
}

func parse(name string) error {
	var (
		configFileName  string
		configFilePath  string
		configEnvPrefix string
		env             string
	)

	env = os.Getenv(fmt.Sprintf("%s_ENV", strings.ToUpper(name)))
	if len(env) == 0 {
		env = os.Getenv("ENV")
	}

	defFilename := dynConfigFileName{"config", env}

	flagsOnce.Do(func() {
		flag.StringVar(&configEnvPrefix, "config-env-prefix", name, "env var name prefix")
		flag.StringVar(&configFileName, "config-name", defFilename.String(), "configuration file name")
		flag.StringVar(&configFilePath, "config-path", ".", "directory containing configuration file")

		addVars()
	})

	flag.Parse()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix(configEnvPrefix)
	viper.AutomaticEnv()

	viper.SetConfigName(configFileName)
	viper.AddConfigPath(fmt.Sprintf("/etc/%s/", name))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.%s", name))
	viper.AddConfigPath(configFilePath)

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.WithField("name", configFileName).
				Info("config file not found, using flags and environment")
			err = nil
		} else {
			return fmt.Errorf("reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	OnChange("log", setLogger)

	// Configuration options that are specified on the command line are not
	// affected by changes to the config file.
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.WithFields(log.Fields{"file": e.Name, "op": e.Op.String()}).Warn("config file changed")
			changed()
		})
	}

	changed()
	return err
}

// Load reads the configuration for the application called name from flags,
// the environment (optionally seeded from a .env file) and a config file.
func Load(name string) error {
	defLogConfig.Set()
	loadDotEnv()
	return parse(name)
}

// LoadDirect loads a configuration from YAML and triggers any subscribed
// callbacks. It does not merge in the environment or the command line; it
// is mostly useful for tests.
func LoadDirect(yaml []byte) error {
	defLogConfig.Set()
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(bytes.NewBuffer(yaml)); err != nil {
		log.WithError(err).Info("failed to load config")
		return err
	}
	if err := setLogger(); err != nil {
		log.WithError(err).Warn("log settings not fully applied")
	}
	changed()
	return nil
}
