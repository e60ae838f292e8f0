package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "stockpulse/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, safe log fields
// (never tokens), and the names of pollers whose override changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file", newCfg.Logging.File != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.debug", newCfg.HTTP.Debug.Enabled),
			logx.Bool("http.debug_token_set", strings.TrimSpace(newCfg.HTTP.Debug.Token) != ""),
		)
	}

	ob, nb := oldCfg.Backend, newCfg.Backend
	if ob != nb {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.base_url", strings.TrimSpace(nb.BaseURL)),
			logx.Bool("backend.token_set", strings.TrimSpace(nb.Token) != ""),
			logx.Any("backend.rate_limit", nb.RateLimit),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", strings.TrimSpace(s.Driver)),
				logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
			)
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	pollers := diffPollers(oldCfg.Pollers, newCfg.Pollers)
	if len(pollers) > 0 {
		changed = append(changed, "pollers")
		attrs = append(attrs, logx.Int("pollers.changed_count", len(pollers)))
	}

	if !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications) {
		changed = append(changed, "notifications")
		attrs = append(attrs, logx.Int("notifications.conventions", len(newCfg.Notifications.Conventions)))
	}

	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
		if d := newCfg.Digest; d != nil {
			attrs = append(attrs,
				logx.Bool("digest.enabled", d.Enabled),
				logx.Int("digest.rate_per_sec", d.RatePerSec),
			)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeout != nt.PollTimeout || ot.Token != nt.Token || !reflect.DeepEqual(ot.AllowedChats, nt.AllowedChats) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.allowed_chats", len(nt.AllowedChats)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pollers
}

func diffPollers(oldM, newM map[string]PollerConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, n := oldM[name], newM[name]
		if !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
