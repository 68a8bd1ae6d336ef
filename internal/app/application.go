// Package app wires the catalog components with uber-fx for the command line tools.
package app

import (
	"context"
	"os"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// DBProviderMap maps a DB_ADAPTORS entry to its provider constructor.
var DBProviderMap = map[string]func(cfg *config.Config) database.DBProvider{
	"postgres": postgres.NewProvider,
	"mysql":    mysql.NewProvider,
	"sqlite":   sqlite.NewProvider,
}

// Options select the configuration of one command invocation.
type Options struct {
	// EnvFilePath is the .env file loaded before the environment overrides.
	EnvFilePath    string
	EmbeddedConfig config.EmbeddedConfig
	// Override applies command line flags on top of the loaded configuration.
	Override func(*config.Config)
}

// EnvFilePath returns ENV_FILE_PATH, or ".env" when it is not set.
func EnvFilePath() string {
	if p := os.Getenv("ENV_FILE_PATH"); p != "" {
		return p
	}
	return ".env"
}

// dbProviderOptions registers the DB providers listed in DB_ADAPTORS (all of them by default).
func dbProviderOptions() []fx.Option {
	adaptors := os.Getenv("DB_ADAPTORS")
	if adaptors == "" {
		adaptors = "postgres,mysql,sqlite"
	}
	options := make([]fx.Option, 0)
	for _, name := range strings.Split(adaptors, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if provider, ok := DBProviderMap[name]; ok {
			options = append(options, fx.Provide(fx.Annotate(provider, fx.ResultTags(`group:"`+database.DBProviderGroup+`"`))))
			logger.Debugf("DB Provider '%s' selected and registered.", name)
		} else {
			logger.Warnf("DB Provider '%s' is configured but not recognized/supported. Skipping.", name)
		}
	}
	return options
}

// New builds the fx application. targets are populated from the container,
// so only the components a command asks for are constructed.
func New(opts Options, targets ...interface{}) *fx.App {
	options := []fx.Option{
		fx.Supply(
			opts.EmbeddedConfig,
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
	}
	if opts.Override != nil {
		options = append(options, fx.Decorate(func(cfg *config.Config) *config.Config {
			opts.Override(cfg)
			return cfg
		}))
	}
	options = append(options, dbProviderOptions()...)
	options = append(options, Module, fx.Populate(targets...))
	return fx.New(options...)
}

// Run starts the application, runs action and stops the application again.
// Stop hooks (metrics textfile, tracer flush, connection close) run even when
// action fails; action's error is returned.
func Run(ctx context.Context, opts Options, target interface{}, action func(ctx context.Context) error) error {
	a := New(opts, target)
	if err := a.Err(); err != nil {
		return err
	}
	startCtx, cancelStart := context.WithTimeout(ctx, a.StartTimeout())
	defer cancelStart()
	if err := a.Start(startCtx); err != nil {
		return err
	}

	runErr := action(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), a.StopTimeout())
	defer cancelStop()
	if err := a.Stop(stopCtx); err != nil {
		logger.Warnf("Failed to stop application cleanly: %v", err)
	}
	_ = logger.Sync()
	return runErr
}
