/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoFileLoaded is returned by Loader.Reload if nothing was loaded from a file before.
var ErrNoFileLoaded = errors.New("no configuration file was loaded")

// Loader loads configuration values from data provider (with initializing default values before)
// and sets them in configuration objects.
// A Loader that loaded a file remembers it, so the file can be read again with Reload
// when a FileWatcher reports a change.
type Loader struct {
	DataProvider DataProvider

	mu           sync.Mutex
	lastPath     string
	lastDataType DataType
}

// NewDefaultLoader creates a new configurations loader with an ability to read values from the environment variables.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a new configurations' loader.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{DataProvider: dp}
}

// DataTypeFromPath detects the data type by the file extension (.yml, .yaml or .json).
func DataTypeFromPath(path string) (DataType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return DataTypeYAML, nil
	case ".json":
		return DataTypeJSON, nil
	}
	return "", fmt.Errorf("cannot detect data type of configuration file %q by extension", path)
}

// LoadFromFile loads configuration values from file and sets them in configuration objects.
// If dataType is empty, it's detected by the file extension.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if dataType == "" {
		var err error
		if dataType, err = DataTypeFromPath(path); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	l.lastPath, l.lastDataType = path, dataType
	return l.load(append([]Config{cfg}, cfgs...))
}

// Reload reads the file loaded by the last successful LoadFromFile call again and sets values in configuration objects.
// Defaults and environment variables are applied the same way as on the first load.
func (l *Loader) Reload(cfg Config, cfgs ...Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastPath == "" {
		return ErrNoFileLoaded
	}
	if err := l.DataProvider.SetFromFile(l.lastPath, l.lastDataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// LoadFromReader loads configuration values from reader and sets them in configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.load(append([]Config{cfg}, cfgs...))
}

// load sets values in all configuration objects. Errors of different objects are joined,
// so one broken section doesn't hide errors in the others.
func (l *Loader) load(cfgs []Config) error {
	dpForCfg := func(cfg Config) DataProvider {
		if kpHolder, ok := cfg.(KeyPrefixProvider); ok && kpHolder.KeyPrefix() != "" {
			return NewKeyPrefixedDataProvider(l.DataProvider, kpHolder.KeyPrefix())
		}
		return l.DataProvider
	}
	for _, cfg := range cfgs {
		cfg.SetProviderDefaults(dpForCfg(cfg))
	}
	var errs []error
	for _, cfg := range cfgs {
		if err := cfg.Set(dpForCfg(cfg)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
