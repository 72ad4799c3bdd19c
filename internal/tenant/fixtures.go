package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture pairs a tenant config with the dialed numbers that route to it.
// Used to seed a development store from a local YAML file.
type Fixture struct {
	DIDs   []string `yaml:"dids"`
	Config Config   `yaml:"config"`
}

// fixtureFile is the root of the TENANT_FIXTURES YAML document.
type fixtureFile struct {
	Tenants []Fixture `yaml:"tenants"`
}

// LoadFixtures reads and validates a fixtures file. Unknown YAML fields are
// rejected so typos fail loudly.
func LoadFixtures(path string) ([]Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: open fixtures %q: %w", path, err)
	}
	defer f.Close()

	var file fixtureFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("tenant: decode fixtures %q: %w", path, err)
	}

	for i := range file.Tenants {
		fx := &file.Tenants[i]
		if err := fx.Config.Validate(); err != nil {
			return nil, fmt.Errorf("tenant: fixtures[%d]: %w", i, err)
		}
		if len(fx.DIDs) == 0 {
			return nil, fmt.Errorf("tenant: fixtures[%d] (%s) maps no dialed numbers", i, fx.Config.TenantID)
		}
		for _, did := range fx.DIDs {
			if _, err := NormalizeDID(did); err != nil {
				return nil, fmt.Errorf("tenant: fixtures[%d]: %w", i, err)
			}
		}
	}
	return file.Tenants, nil
}

// Seed writes fixtures into the store: one tenantcfg entry per tenant plus a
// DID mapping per number. Entries are written without expiry.
func Seed(ctx context.Context, store Store, fixtures []Fixture) error {
	for _, fx := range fixtures {
		raw, err := json.Marshal(fx.Config)
		if err != nil {
			return fmt.Errorf("tenant: marshal fixture %s: %w", fx.Config.TenantID, err)
		}
		if err := store.Set(ctx, cfgKeyPrefix+fx.Config.TenantID, string(raw), 0).Err(); err != nil {
			return fmt.Errorf("tenant: seed config %s: %w", fx.Config.TenantID, err)
		}
		for _, did := range fx.DIDs {
			normalized, err := NormalizeDID(did)
			if err != nil {
				return err
			}
			if err := store.Set(ctx, didKeyPrefix+normalized, fx.Config.TenantID, 0).Err(); err != nil {
				return fmt.Errorf("tenant: seed DID %s: %w", normalized, err)
			}
		}
		slog.Info("seeded tenant fixture", "tenant", fx.Config.TenantID, "dids", len(fx.DIDs))
	}
	return nil
}
