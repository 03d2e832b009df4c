package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"confwatch/internal/config"
	logx "confwatch/pkg/logx"
)

// Validate checks cfg the way New would consume it. It guards startup and
// every hot reload, so a bad edit never replaces a running config.
func Validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		check(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		check(errors.New("logging.file.path is required when logging.file.enabled=true"))
	}
	_, _, err := mapFetchConfig(cfg)
	check(err)
	_, err = mapCacheTTL(cfg)
	check(err)
	_, err = mapStorageConfig(cfg)
	check(err)
	_, err = mapLocation(cfg)
	check(err)
	_, err = mapTaskEngineConfig(cfg)
	check(err)
	_, err = mapPlanOptions(cfg)
	check(err)
	_, err = mapNotifierConfig(cfg)
	check(err)
	_, _, err = mapTelegramConfig(cfg)
	check(err)
	check(validateSchedule("cache.refresh", cfg.Cache.Refresh))
	check(validateSchedule("reminders.reconcile", cfg.Reminders.Reconcile))

	return errors.Join(errs...)
}

// LoadConfig reads path, writing the defaults first when it does not exist.
func LoadConfig(path string) (*config.ConfigManager, *config.Config, error) {
	cfgm := config.NewConfigManager(path)
	if !cfgm.Exists() {
		if err := cfgm.WriteDefault(config.Default()); err != nil {
			return nil, nil, fmt.Errorf("write default config: %w", err)
		}
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfgm, cfg, nil
}
