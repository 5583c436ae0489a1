package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DunningPolicy controls retry pacing for declined renewal charges. It is
// operator-tunable at runtime via a mounted config file.
type DunningPolicy struct {
	MaxAttempts     int   `mapstructure:"maxAttempts"`
	BackoffBaseMins []int `mapstructure:"backoffBaseMins"`
	OverdueGraceHrs int   `mapstructure:"overdueGraceHrs"`
}

func DefaultDunningPolicy() DunningPolicy {
	return DunningPolicy{
		MaxAttempts:     4,
		BackoffBaseMins: []int{60, 360, 1440, 4320},
		OverdueGraceHrs: 24,
	}
}

// BackoffFor returns the wait before the given retry attempt (1-based).
func (p DunningPolicy) BackoffFor(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if len(p.BackoffBaseMins) == 0 {
		return time.Duration(attempt) * time.Hour
	}
	if attempt > len(p.BackoffBaseMins) {
		attempt = len(p.BackoffBaseMins)
	}
	return time.Duration(p.BackoffBaseMins[attempt-1]) * time.Minute
}

// DunningPolicyHolder exposes the current policy and hot-reloads it on
// config file changes.
type DunningPolicyHolder struct {
	current atomic.Value // holds DunningPolicy
}

func NewDunningPolicyHolder() (*DunningPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/fairway/config")
	v.AddConfigPath("/etc/fairway")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FAIRWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultDunningPolicy()
		v.SetDefault("dunning.maxAttempts", defaults.MaxAttempts)
		v.SetDefault("dunning.backoffBaseMins", defaults.BackoffBaseMins)
		v.SetDefault("dunning.overdueGraceHrs", defaults.OverdueGraceHrs)
	}

	holder := &DunningPolicyHolder{}
	if err := holder.load(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		if err := holder.load(v); err != nil {
			log.Printf("dunning policy reload failed: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *DunningPolicyHolder) load(v *viper.Viper) error {
	var policy DunningPolicy
	if err := v.UnmarshalKey("dunning", &policy); err != nil {
		return err
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultDunningPolicy()
	}
	if policy.MaxAttempts > 10 {
		return errors.New("dunning maxAttempts out of range")
	}
	h.current.Store(policy)
	return nil
}

// Current returns the active policy.
func (h *DunningPolicyHolder) Current() DunningPolicy {
	if h == nil {
		return DefaultDunningPolicy()
	}
	if policy, ok := h.current.Load().(DunningPolicy); ok {
		return policy
	}
	return DefaultDunningPolicy()
}
