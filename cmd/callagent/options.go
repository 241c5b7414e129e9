package main

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-callagent/internal/config"
	"github.com/teslashibe/go-callagent/internal/log"
)

// Options is the root command. Struct tags are read by go-flags.
type Options struct {
	EnvFile  string `short:"e" long:"env-file" description:"env file loaded before the environment" default:".env.local"`
	LogLevel string `short:"l" long:"log-level" description:"debug|info|warn|error (overrides LOG_LEVEL)"`
	Debug    bool   `short:"d" long:"debug" description:"shorthand for --log-level debug"`

	Serve *ServeCmd `command:"serve" description:"Serve the admin API and start a session for every incoming call"`
	Join  *JoinCmd  `command:"join"  description:"Join one room and handle its call"`
	Check *CheckCmd `command:"check" description:"Validate configuration and probe collaborators"`
	Token *TokenCmd `command:"token" description:"Print an admin API bearer token"`
}

// global is set before parsing so sub-commands can read root options.
var global *Options

// Init allocates the sub-command named by the first argument so go-flags
// can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "join":
		o.Join = &JoinCmd{}
	case "check":
		o.Check = &CheckCmd{}
	case "token":
		o.Token = &TokenCmd{}
	}
}

// load reads configuration and initializes logging.
func (o *Options) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.EnvFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	switch {
	case o.Debug:
		cfg.Debug = true
		cfg.LogLevel = "debug"
	case o.LogLevel != "":
		cfg.LogLevel = o.LogLevel
	}
	log.Init(cfg.LogLevel)
	return cfg, log.L(), nil
}

// loadValid is load plus Validate. Missing credentials are fatal.
func (o *Options) loadValid() (config.Config, *slog.Logger, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return cfg, logger, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, logger, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}
