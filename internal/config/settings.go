package config

import (
	"context"
	"errors"

	"github.com/knadh/koanf/maps"
)

// storeProvider exposes the settings store to koanf. Keys are dotted paths
// such as "engine.ready_threshold_ms"; values are strings and rely on
// koanf's weak typing when unmarshalled.
type storeProvider struct {
	ctx   context.Context
	store SettingsSource
}

func settingsProvider(ctx context.Context, store SettingsSource) *storeProvider {
	return &storeProvider{ctx: ctx, store: store}
}

// ReadBytes is not supported.
func (p *storeProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("settings provider does not support ReadBytes")
}

// Read returns the settings as a nested map.
func (p *storeProvider) Read() (map[string]interface{}, error) {
	settings, err := p.store.Settings(p.ctx)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		flat[k] = v
	}
	return maps.Unflatten(flat, "."), nil
}
