package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"gopkg.in/yaml.v3"
)

// Saver persists tenant profiles.
type Saver interface {
	SaveTenant(ctx context.Context, profile models.TenantProfile) error
}

type seedFile struct {
	Tenants []models.TenantProfile `yaml:"tenants"`
}

// LoadProfiles reads tenant profiles from a YAML file with a top-level
// "tenants" list. Addresses are normalized and timezones validated.
func LoadProfiles(path string) ([]models.TenantProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseProfiles(raw)
}

// ParseProfiles decodes and validates YAML tenant profiles.
func ParseProfiles(raw []byte) ([]models.TenantProfile, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}
	seen := make(map[string]string, len(f.Tenants))
	for i := range f.Tenants {
		t := &f.Tenants[i]
		if t.ID == "" {
			return nil, fmt.Errorf("tenant #%d: id is required", i+1)
		}
		t.Address = NormalizeAddress(t.Address)
		if t.Address == "" {
			return nil, fmt.Errorf("tenant %s: address is required", t.ID)
		}
		if other, dup := seen[t.Address]; dup {
			return nil, fmt.Errorf("tenant %s: address %s already used by %s", t.ID, t.Address, other)
		}
		seen[t.Address] = t.ID
		if t.Timezone == "" {
			t.Timezone = "Europe/Paris"
		}
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return nil, fmt.Errorf("tenant %s: invalid timezone %q: %w", t.ID, t.Timezone, err)
		}
		if t.Language == "" {
			t.Language = "fr"
		}
	}
	return f.Tenants, nil
}

// Seed saves every profile through s.
func Seed(ctx context.Context, s Saver, profiles []models.TenantProfile) error {
	for _, p := range profiles {
		if err := s.SaveTenant(ctx, p); err != nil {
			return fmt.Errorf("seed tenant %s: %w", p.ID, err)
		}
	}
	slog.Info("tenant.Seed: profiles saved", "count", len(profiles))
	return nil
}
