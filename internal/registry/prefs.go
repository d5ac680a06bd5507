package registry

import (
	"context"
	"fmt"
	"strings"
)

// Well-known preference keys. Anything else is stored opaquely.
const (
	PrefTimezone = "timezone"
	PrefUnits    = "units"
	PrefQuiet    = "quiet"
)

const (
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

// SetPref validates well-known keys before storing. Unknown keys pass
// through untouched. An empty value deletes the key.
func (r *Registry) SetPref(ctx context.Context, identity, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("empty preference key")
	}
	if value != "" {
		switch key {
		case PrefUnits:
			v := strings.ToLower(value)
			if v != UnitsMetric && v != UnitsImperial {
				return fmt.Errorf("units must be %q or %q", UnitsMetric, UnitsImperial)
			}
			value = v
		case PrefQuiet:
			v := strings.ToLower(value)
			if v != "true" && v != "false" {
				return fmt.Errorf("quiet must be true or false")
			}
			value = v
		}
	}
	return r.store.SetNodePref(ctx, identity, key, value)
}

// Pref returns one preference value and whether it is set.
func (r *Registry) Pref(ctx context.Context, identity, key string) (string, bool, error) {
	return r.store.GetNodePref(ctx, identity, strings.ToLower(key))
}

// Quiet reports whether the node asked not to receive unsolicited replies.
func (r *Registry) Quiet(ctx context.Context, identity string) bool {
	v, ok, err := r.store.GetNodePref(ctx, identity, PrefQuiet)
	return err == nil && ok && v == "true"
}

// Prefs returns every preference stored for a node.
func (r *Registry) Prefs(ctx context.Context, identity string) (map[string]string, error) {
	return r.store.NodePrefs(ctx, identity)
}
