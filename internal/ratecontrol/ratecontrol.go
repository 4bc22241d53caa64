// Package ratecontrol paces outbound calls per collaborator host with a
// shared token bucket. internal/embeddings.Service waits on the
// "model-host" limiter before each model-host call; artifact-store calls
// are not paced.
package ratecontrol

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type config struct {
	RateLimits struct {
		DefaultRPS     float64 `yaml:"default_rps"`
		DefaultBurst   int     `yaml:"default_burst"`
		HostOverrides  map[string]struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"host_overrides"`
	} `yaml:"rate_limits"`
}

// Limit describes the token-bucket shape applied to one collaborator host.
type Limit struct {
	RPS   float64
	Burst int
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool

	limiterMu sync.Mutex
	limiters  = map[string]*rate.Limiter{}
)

var defaultPaths = []string{
	os.Getenv("RATECONTROL_CONFIG_PATH"),
	"/app/config/ratecontrol.yaml",
	"./config/ratecontrol.yaml",
	"../../config/ratecontrol.yaml",
}

func loadLocked() {
	var cfg config
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal rate control config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		break
	}
	if cfg.RateLimits.DefaultRPS == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp config
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
				}
			}
		}
	}
	if cfg.RateLimits.DefaultRPS == 0 {
		cfg.RateLimits.DefaultRPS = 20
	}
	if cfg.RateLimits.DefaultBurst == 0 {
		cfg.RateLimits.DefaultBurst = 5
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "ratecontrol.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// LimitForHost resolves the configured rate shape for a collaborator host
// name (e.g. "model-host", "artifact-store").
func LimitForHost(host string) Limit {
	cfg := get()
	key := strings.ToLower(strings.TrimSpace(host))
	if cfg.RateLimits.HostOverrides != nil {
		if override, ok := cfg.RateLimits.HostOverrides[key]; ok {
			return Limit{RPS: override.RPS, Burst: override.Burst}
		}
	}
	return Limit{RPS: cfg.RateLimits.DefaultRPS, Burst: cfg.RateLimits.DefaultBurst}
}

// Waiter returns (creating if necessary) the shared limiter for a host.
func Waiter(host string) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	if l, ok := limiters[host]; ok {
		return l
	}
	lim := LimitForHost(host)
	l := rate.NewLimiter(rate.Limit(lim.RPS), lim.Burst)
	limiters[host] = l
	return l
}

// Wait blocks until a call to host is permitted or ctx is done.
func Wait(ctx context.Context, host string) error {
	return Waiter(host).Wait(ctx)
}

// Reload discards the cached configuration and limiters (used by tests and
// hot-reload).
func Reload() {
	mu.Lock()
	initialized = false
	mu.Unlock()

	limiterMu.Lock()
	limiters = map[string]*rate.Limiter{}
	limiterMu.Unlock()
}
