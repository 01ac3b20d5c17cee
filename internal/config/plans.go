package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Plan maps a checkout plan identifier to its price, display name and feature
// flags. A Subscription row is materialized from exactly one Plan.
type Plan struct {
	Type            string  `mapstructure:"type"`
	Name            string  `mapstructure:"name"`
	Amount          float64 `mapstructure:"amount"`
	IncludesSignals bool    `mapstructure:"includesSignals"`
	AutoRenew       bool    `mapstructure:"autoRenew"`
}

type PlanConfig struct {
	Plans []Plan `mapstructure:"plans"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Plans: []Plan{
			{Type: "formation", Name: "Formation Trading", Amount: 249.99},
			{Type: "formationSignaux", Name: "Formation Trading + Signaux", Amount: 349.99, IncludesSignals: true},
			{Type: "signaux", Name: "Signaux Premium", Amount: 49.99, IncludesSignals: true, AutoRenew: true},
		},
	}
}

// PlanHolder serves the current plan table and swaps it atomically on reload.
type PlanHolder struct {
	current atomic.Value // holds map[string]Plan
}

func NewPlanHolder() (*PlanHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingd")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanConfig()
		v.SetDefault("plans", defaults.Plans)
	}

	var cfg PlanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanHolder{}
	holder.current.Store(indexPlans(cfg))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(indexPlans(updated))
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanHolder builds a holder from a fixed plan set, used by tests.
func NewStaticPlanHolder(cfg PlanConfig) *PlanHolder {
	holder := &PlanHolder{}
	holder.current.Store(indexPlans(cfg))
	return holder
}

// Lookup resolves a plan by its checkout identifier.
func (h *PlanHolder) Lookup(planType string) (Plan, bool) {
	plans := h.current.Load().(map[string]Plan)
	plan, ok := plans[strings.TrimSpace(planType)]
	return plan, ok
}

func indexPlans(cfg PlanConfig) map[string]Plan {
	out := make(map[string]Plan, len(cfg.Plans))
	for _, p := range cfg.Plans {
		out[p.Type] = p
	}
	return out
}

func validatePlanConfig(cfg PlanConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	for _, p := range cfg.Plans {
		if strings.TrimSpace(p.Type) == "" {
			return errors.New("plan type cannot be empty")
		}
		if p.Amount <= 0 {
			return errors.New("plan amount must be positive")
		}
	}
	return nil
}
