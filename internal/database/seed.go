package database

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// providerSeed is one entry in the providers.yaml seed file.
type providerSeed struct {
	Name                 string `yaml:"name"`
	DisplayName          string `yaml:"display_name"`
	RequestsPerMinute    int    `yaml:"requests_per_minute"`
	RequestsPerHour      int    `yaml:"requests_per_hour"`
	TokensPerMinute      int    `yaml:"tokens_per_minute"`
	TokensPerDay         int    `yaml:"tokens_per_day"`
	DefaultQuotaLimit    int64  `yaml:"default_quota_limit"`
	QuotaResetType       string `yaml:"quota_reset_type"`
	QuotaResetHour       int    `yaml:"quota_reset_hour"`
	QuotaResetDayOfMonth int    `yaml:"quota_reset_day_of_month"`
	QuotaResetTimezone   string `yaml:"quota_reset_timezone"`
}

type providerSeedFile struct {
	Providers []providerSeed `yaml:"providers"`
}

// defaultProviderSeeds covers the providers the platform ships with.
// Operators override or extend the set via QUOTAGATE_PROVIDERS_FILE.
var defaultProviderSeeds = []providerSeed{
	{Name: "claude", DisplayName: "Anthropic Claude", RequestsPerMinute: 3, DefaultQuotaLimit: 1000, QuotaResetType: "daily"},
	{Name: "gemini", DisplayName: "Google Gemini", RequestsPerMinute: 5, DefaultQuotaLimit: 1500, QuotaResetType: "daily"},
	{Name: "openai", DisplayName: "OpenAI", RequestsPerMinute: 3, DefaultQuotaLimit: 1000, QuotaResetType: "monthly", QuotaResetDayOfMonth: 1},
	{Name: "cursor", DisplayName: "Cursor", RequestsPerMinute: 2, DefaultQuotaLimit: 500, QuotaResetType: "monthly", QuotaResetDayOfMonth: 1},
}

// SeedProviders inserts reference provider rows that do not exist yet.
// Existing rows are left untouched, so the seed is idempotent and never
// clobbers operator edits.
func SeedProviders(db *gorm.DB, seedFile string) error {
	seeds := defaultProviderSeeds
	if seedFile != "" {
		loaded, err := loadProviderSeeds(seedFile)
		if err != nil {
			return err
		}
		seeds = loaded
	}

	for _, s := range seeds {
		resetType := ResetType(s.QuotaResetType)
		if s.QuotaResetType == "" {
			resetType = ResetDaily
		}
		if !resetType.Valid() {
			return fmt.Errorf("provider %s: unknown quota_reset_type %q", s.Name, s.QuotaResetType)
		}

		tz := s.QuotaResetTimezone
		if tz == "" {
			tz = "UTC"
		}
		day := s.QuotaResetDayOfMonth
		if day == 0 {
			day = 1
		}

		var count int64
		db.Model(&Provider{}).Where("name = ?", s.Name).Count(&count)
		if count > 0 {
			continue
		}

		p := Provider{
			Name:                 s.Name,
			DisplayName:          s.DisplayName,
			RequestsPerMinute:    s.RequestsPerMinute,
			RequestsPerHour:      s.RequestsPerHour,
			TokensPerMinute:      s.TokensPerMinute,
			TokensPerDay:         s.TokensPerDay,
			DefaultQuotaLimit:    s.DefaultQuotaLimit,
			QuotaResetType:       resetType,
			QuotaResetHour:       s.QuotaResetHour,
			QuotaResetDayOfMonth: day,
			QuotaResetTimezone:   tz,
			IsActive:             true,
		}
		if err := db.Create(&p).Error; err != nil {
			return fmt.Errorf("seed provider %s: %w", s.Name, err)
		}
		log.Printf("Seeded provider %s (%s reset, limit %d)", p.Name, p.QuotaResetType, p.DefaultQuotaLimit)
	}

	return nil
}

func loadProviderSeeds(path string) ([]providerSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	var f providerSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("providers file %s defines no providers", path)
	}
	return f.Providers, nil
}
