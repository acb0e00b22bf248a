package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"courtdesk/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("COURTDESK_TEST_GATEWAY_TOKEN", "secret-token")

	yamlContent := `
database:
  path: "test.db"
gateway:
  base_url: "https://payments.example.com"
  access_token: "${COURTDESK_TEST_GATEWAY_TOKEN}"
api:
  auth:
    enabled: true
    api_keys:
      - key: "k1"
        name: "front"
        permissions: ["*"]
tenants:
  - id: 1
    name: "Club Norte"
    slug: "club-norte"
    timezone: "UTC"
    courts:
      - id: 1
        name: "Cancha 1"
        is_active: true
    price_rules:
      - name: "peak"
        days: [1, 2, 3, 4, 5]
        start_time: "18:00"
        end_time: "23:00"
        priority: 10
        price: "1500.00"
        member_price: "1200"
    products:
      - id: 1
        name: "Agua"
        price: "50"
        stock: 24
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Gateway.AccessToken != "secret-token" {
		t.Errorf("expected env expansion, got %q", cfg.Gateway.AccessToken)
	}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0].ID != 1 {
		t.Fatalf("expected 1 tenant with ID 1")
	}
	tenant := cfg.Tenants[0]
	if tenant.OpenTime != models.DefaultOpenTime || tenant.SlotDuration != models.DefaultSlotDuration {
		t.Errorf("expected tenant defaults, got open=%s slot=%d", tenant.OpenTime, tenant.SlotDuration)
	}
	if tenant.Timezone != "UTC" {
		t.Errorf("expected explicit timezone to survive defaults, got %s", tenant.Timezone)
	}
	if len(tenant.Courts) != 1 || !tenant.Courts[0].IsActive {
		t.Errorf("expected one active court")
	}

	rule, err := tenant.PriceRules[0].ToModel()
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if rule.Price.String() != "1500" || !rule.MemberPrice.Valid {
		t.Errorf("unexpected rule prices: %s %v", rule.Price, rule.MemberPrice)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     Config{Database: DatabaseConfig{Path: "path"}},
			wantErr: false,
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "auth without keys",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				API:      APIConfig{HTTP: APIHTTPConfig{Enabled: true}, Auth: APIAuthConfig{Enabled: true}},
			},
			wantErr: true,
		},
		{
			name: "duplicate tenant id",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Tenants: []TenantConfig{
					{Tenant: models.Tenant{ID: 1, Slug: "a", OpenTime: "08:00", CloseTime: "23:00"}},
					{Tenant: models.Tenant{ID: 1, Slug: "b", OpenTime: "08:00", CloseTime: "23:00"}},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Scheduling: SchedulingConfig{MaxSeriesWeeks: 500}}
	cfg.applyDefaults()

	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Scheduling.MaxSeriesWeeks != models.MaxSeriesOccurrences {
		t.Errorf("expected series cap %d, got %d", models.MaxSeriesOccurrences, cfg.Scheduling.MaxSeriesWeeks)
	}
	if cfg.Scheduling.DefaultTimezone != models.DefaultTimezone {
		t.Errorf("expected default timezone, got %s", cfg.Scheduling.DefaultTimezone)
	}
	if cfg.Worker.InitialDelay != 2*time.Second || cfg.Worker.MaxRetries != 5 {
		t.Errorf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.RabbitMQ.MessagingQueue != "messaging.outbound" {
		t.Errorf("unexpected messaging queue %s", cfg.RabbitMQ.MessagingQueue)
	}
}

func TestValidateTenants(t *testing.T) {
	valid := models.Tenant{ID: 1, Slug: "a", OpenTime: "08:00", CloseTime: "23:00"}
	tests := []struct {
		name    string
		tenants []TenantConfig
		wantErr bool
	}{
		{
			name:    "Valid tenant",
			tenants: []TenantConfig{{Tenant: valid, Courts: []models.Court{{ID: 1, Name: "A"}}}},
			wantErr: false,
		},
		{
			name:    "ID 0",
			tenants: []TenantConfig{{Tenant: models.Tenant{Slug: "a", OpenTime: "08:00", CloseTime: "23:00"}}},
			wantErr: true,
		},
		{
			name:    "Bad clock",
			tenants: []TenantConfig{{Tenant: models.Tenant{ID: 1, Slug: "a", OpenTime: "8am", CloseTime: "23:00"}}},
			wantErr: true,
		},
		{
			name:    "Bad timezone",
			tenants: []TenantConfig{{Tenant: models.Tenant{ID: 1, Slug: "a", OpenTime: "08:00", CloseTime: "23:00", Timezone: "Mars/Base"}}},
			wantErr: true,
		},
		{
			name: "Duplicate court",
			tenants: []TenantConfig{{
				Tenant: valid,
				Courts: []models.Court{{ID: 1, Name: "A"}, {ID: 1, Name: "B"}},
			}},
			wantErr: true,
		},
		{
			name: "Bad rule price",
			tenants: []TenantConfig{{
				Tenant:     valid,
				PriceRules: []PriceRuleConfig{{Name: "x", StartTime: "08:00", EndTime: "12:00", Price: "abc"}},
			}},
			wantErr: true,
		},
		{
			name: "Bad rule weekday",
			tenants: []TenantConfig{{
				Tenant:     valid,
				PriceRules: []PriceRuleConfig{{Name: "x", Days: []int{9}, StartTime: "08:00", EndTime: "12:00", Price: "1"}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenants(tt.tenants)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTenants() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPriceRuleConfig_Dates(t *testing.T) {
	rule, err := PriceRuleConfig{
		Name: "summer", StartTime: "08:00", EndTime: "12:00", Price: "10",
		StartDate: "2025-12-01", EndDate: "2026-02-28",
	}.ToModel()
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if rule.StartDate == nil || rule.StartDate.Format(models.DateLayout) != "2025-12-01" {
		t.Errorf("unexpected start date %v", rule.StartDate)
	}
	if rule.MemberPrice.Valid {
		t.Errorf("member price should be unset")
	}
}

func TestPriceRuleConfig_UnpaddedClocks(t *testing.T) {
	rule, err := PriceRuleConfig{Name: "morning", StartTime: "8:00", EndTime: "9:30", Price: "100"}.ToModel()
	if err != nil {
		t.Fatalf("ToModel failed: %v", err)
	}
	if rule.StartTime != "08:00" || rule.EndTime != "09:30" {
		t.Errorf("expected padded clocks, got %s-%s", rule.StartTime, rule.EndTime)
	}
	if !rule.Covers("09:00") {
		t.Errorf("expected 09:00 to be covered by %s-%s", rule.StartTime, rule.EndTime)
	}

	cfg := &Config{Tenants: []TenantConfig{{Tenant: models.Tenant{ID: 1, Slug: "a", OpenTime: "7:00", CloseTime: "23:00"}}}}
	cfg.applyDefaults()
	if cfg.Tenants[0].OpenTime != "07:00" {
		t.Errorf("expected padded open time, got %s", cfg.Tenants[0].OpenTime)
	}
}
