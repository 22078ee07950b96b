package config

import (
	"fmt"
	"sync"
)

var (
	// globalConfig holds the singleton configuration instance.
	globalConfig *Config

	// configMutex protects globalConfig and listeners.
	configMutex sync.RWMutex

	// listeners are notified after every successful reload.
	listeners []func(*Config)

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global singleton configuration.
// Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		SetConfig(cfg)
	})

	return initErr
}

// GetConfig returns the global configuration instance.
// It returns nil if Initialize has not been called successfully.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig sets the global configuration instance without notifying
// listeners. It is intended for startup and tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// OnReload registers fn to run after every successful ReloadConfig with the
// new configuration. Listeners run synchronously in registration order.
func OnReload(fn func(*Config)) {
	configMutex.Lock()
	defer configMutex.Unlock()
	listeners = append(listeners, fn)
}

// ReloadConfig reloads the configuration from the specified path.
// The new configuration replaces the global instance and is handed to the
// OnReload listeners only if loading and validation succeed; otherwise the
// existing configuration remains in effect.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = cfg
	notify := make([]func(*Config), len(listeners))
	copy(notify, listeners)
	configMutex.Unlock()

	for _, fn := range notify {
		fn(cfg)
	}

	return nil
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}

// resetForTest clears the singleton state.
func resetForTest() {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = nil
	listeners = nil
	initOnce = sync.Once{}
}
