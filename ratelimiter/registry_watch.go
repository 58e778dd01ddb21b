/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package ratelimiter

import (
	"context"
	"fmt"

	"github.com/acronis/go-ratelimiter/config"
	"github.com/acronis/go-ratelimiter/log"
)

// LoadConfigFile loads RegistryConfig from the file and applies it to the registry with ApplyConfig.
// If dataType is empty, it's detected by the file extension.
func (r *Registry) LoadConfigFile(path string, dataType config.DataType, options ...RegistryConfigOption) error {
	cfg := NewRegistryConfig(options...)
	if err := config.NewLoader(config.NewViperAdapter()).LoadFromFile(path, dataType, cfg); err != nil {
		return fmt.Errorf("load rate limiters config from %q: %w", path, err)
	}
	return r.ApplyConfig(cfg)
}

// WatchConfigFile loads the configuration file and then reloads it on every change until ctx is done.
// The error of the initial load is returned, reload errors are logged,
// and the registry keeps the previous configuration for the rate limiters that could not be updated.
func (r *Registry) WatchConfigFile(
	ctx context.Context, path string, dataType config.DataType, options ...RegistryConfigOption,
) error {
	loader := config.NewLoader(config.NewViperAdapter())
	cfg := NewRegistryConfig(options...)
	if err := loader.LoadFromFile(path, dataType, cfg); err != nil {
		return fmt.Errorf("load rate limiters config from %q: %w", path, err)
	}
	if err := r.ApplyConfig(cfg); err != nil {
		return err
	}

	logger := r.opts.Logger.With(log.String("config_path", path))
	fw := config.NewFileWatcher(path, config.FileWatcherOpts{
		OnError: func(err error) {
			logger.Error("failed to reload rate limiters config", log.Error(err))
		},
	})
	return fw.Watch(ctx, func() error {
		reloaded := NewRegistryConfig(options...)
		if err := loader.Reload(reloaded); err != nil {
			return fmt.Errorf("reload rate limiters config from %q: %w", path, err)
		}
		if err := r.ApplyConfig(reloaded); err != nil {
			return err
		}
		logger.Info("rate limiters config reloaded")
		return nil
	})
}
