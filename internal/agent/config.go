package agent

import (
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/scottag99/glowroot/internal/weaving/weaver"
)

// Settings are the weaving switches the agent reads at the start of every
// load.
type Settings struct {
	Disabled                     bool
	MetricWrapperMethodsDisabled bool
}

// ConfigService supplies the current settings. The agent never caches the
// result, so implementations may change their answer at any time.
type ConfigService interface {
	Weaving() Settings
}

// StaticConfig is a ConfigService whose settings are changed with Set.
type StaticConfig struct {
	v atomic.Pointer[Settings]
}

// NewStaticConfig returns a StaticConfig holding s.
func NewStaticConfig(s Settings) *StaticConfig {
	c := &StaticConfig{}
	c.Set(s)
	return c
}

// Set replaces the settings.
func (c *StaticConfig) Set(s Settings) {
	c.v.Store(&s)
}

func (c *StaticConfig) Weaving() Settings {
	if s := c.v.Load(); s != nil {
		return *s
	}
	return Settings{}
}

// ViperConfig reads the weaving keys from a viper instance on every call,
// so edits picked up by viper's config watcher apply to the next load.
type ViperConfig struct {
	mu sync.Mutex
	v  *viper.Viper
}

// NewViperConfig wraps v.
func NewViperConfig(v *viper.Viper) *ViperConfig {
	return &ViperConfig{v: v}
}

func (c *ViperConfig) Weaving() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Settings{
		Disabled:                     c.v.GetBool("weaving.disabled"),
		MetricWrapperMethodsDisabled: c.v.GetBool("weaving.metric_wrapper_methods_disabled"),
	}
}

func weaverSettings(cfg ConfigService) func() weaver.Settings {
	return func() weaver.Settings {
		return weaver.Settings{MetricWrapperMethodsDisabled: cfg.Weaving().MetricWrapperMethodsDisabled}
	}
}
