package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"courtdesk/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Scheduling SchedulingConfig `yaml:"scheduling"`
	Worker     WorkerConfig     `yaml:"worker"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Tenants    []TenantConfig   `yaml:"tenants"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RabbitMQConfig struct {
	URL              string `yaml:"url"`
	RealtimeExchange string `yaml:"realtime_exchange"`
	MessagingQueue   string `yaml:"messaging_queue"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
	// StaffChats maps tenant ids to the chat that receives staff alerts.
	StaffChats map[int64]int64 `yaml:"staff_chats"`
}

type GatewayConfig struct {
	BaseURL             string        `yaml:"base_url"`
	AccessToken         string        `yaml:"access_token"`
	Timeout             time.Duration `yaml:"timeout"`
	ReturnURL           string        `yaml:"return_url"`
	NotificationURL     string        `yaml:"notification_url"`
	Currency            string        `yaml:"currency"`
	StatementDescriptor string        `yaml:"statement_descriptor"`
}

type SchedulingConfig struct {
	DefaultOpenTime     string `yaml:"default_open_time"`
	DefaultCloseTime    string `yaml:"default_close_time"`
	DefaultSlotDuration int    `yaml:"default_slot_duration"`
	DefaultTimezone     string `yaml:"default_timezone"`
	MaxSeriesWeeks      int    `yaml:"max_series_weeks"`
}

type WorkerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	BackoffMult  float64       `yaml:"backoff_multiplier"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QueueSize    int           `yaml:"queue_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	// JWTSecret enables "Authorization: Bearer" tokens signed with HS256.
	JWTSecret string `yaml:"jwt_secret"`
}

// APIClientKey grants a caller permissions, optionally restricted to tenants.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
	Tenants     []int64  `yaml:"tenants"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TenantConfig seeds one tenant with its courts, products and price rules.
type TenantConfig struct {
	models.Tenant `yaml:",inline"`
	Courts        []models.Court    `yaml:"courts"`
	PriceRules    []PriceRuleConfig `yaml:"price_rules"`
	Products      []ProductConfig   `yaml:"products"`
}

type PriceRuleConfig struct {
	Name        string `yaml:"name"`
	Days        []int  `yaml:"days"`
	StartTime   string `yaml:"start_time"`
	EndTime     string `yaml:"end_time"`
	Priority    int    `yaml:"priority"`
	Price       string `yaml:"price"`
	MemberPrice string `yaml:"member_price"`
	StartDate   string `yaml:"start_date"`
	EndDate     string `yaml:"end_date"`
}

type ProductConfig struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Stock int64  `yaml:"stock"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real deployments pass the environment directly.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Worker.MaxRetries < 0 {
		return errors.New("worker max_retries must not be negative")
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 && c.API.HTTP.Enabled {
		return errors.New("api auth is enabled but no api_keys are configured")
	}
	return ValidateTenants(c.Tenants)
}

// ValidateTenants checks ids, clocks, weekdays and prices of configured tenants.
func ValidateTenants(tenants []TenantConfig) error {
	tenantIDs := make(map[int64]bool)
	courtIDs := make(map[int64]bool)
	for _, t := range tenants {
		if t.ID == 0 {
			return fmt.Errorf("tenant '%s' has invalid ID 0", t.Name)
		}
		if tenantIDs[t.ID] {
			return fmt.Errorf("duplicate tenant ID found: %d", t.ID)
		}
		tenantIDs[t.ID] = true

		if t.Slug == "" {
			return fmt.Errorf("tenant %d: slug is required", t.ID)
		}
		for _, clock := range []string{t.OpenTime, t.CloseTime} {
			if _, err := time.Parse(models.ClockLayout, clock); err != nil {
				return fmt.Errorf("tenant %d: invalid clock %q", t.ID, clock)
			}
		}
		if _, err := t.Location(); err != nil {
			return err
		}
		for _, court := range t.Courts {
			if court.ID == 0 {
				return fmt.Errorf("tenant %d: court '%s' has invalid ID 0", t.ID, court.Name)
			}
			if courtIDs[court.ID] {
				return fmt.Errorf("duplicate court ID found: %d", court.ID)
			}
			courtIDs[court.ID] = true
		}
		for _, r := range t.PriceRules {
			if _, err := r.ToModel(); err != nil {
				return fmt.Errorf("tenant %d: %w", t.ID, err)
			}
		}
		for _, p := range t.Products {
			if _, err := p.ToModel(); err != nil {
				return fmt.Errorf("tenant %d: %w", t.ID, err)
			}
		}
	}
	return nil
}

// ToModel converts the YAML rule into a domain price rule.
func (r PriceRuleConfig) ToModel() (*models.PriceRule, error) {
	rule := &models.PriceRule{
		Name:       r.Name,
		DaysOfWeek: r.Days,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Priority:   r.Priority,
	}
	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("price rule '%s': weekday out of range: %d", r.Name, d)
		}
	}
	for _, clock := range []*string{&rule.StartTime, &rule.EndTime} {
		normalized, err := models.NormalizeClock(*clock)
		if err != nil {
			return nil, fmt.Errorf("price rule '%s': invalid clock %q", r.Name, *clock)
		}
		*clock = normalized
	}

	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("price rule '%s': invalid price %q", r.Name, r.Price)
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("price rule '%s': negative price", r.Name)
	}
	rule.Price = price

	if strings.TrimSpace(r.MemberPrice) != "" {
		mp, err := decimal.NewFromString(r.MemberPrice)
		if err != nil {
			return nil, fmt.Errorf("price rule '%s': invalid member price %q", r.Name, r.MemberPrice)
		}
		rule.MemberPrice = decimal.NewNullDecimal(mp)
	}

	if rule.StartDate, err = parseOptionalDate(r.StartDate); err != nil {
		return nil, fmt.Errorf("price rule '%s': %w", r.Name, err)
	}
	if rule.EndDate, err = parseOptionalDate(r.EndDate); err != nil {
		return nil, fmt.Errorf("price rule '%s': %w", r.Name, err)
	}
	return rule, nil
}

func (p ProductConfig) ToModel() (*models.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, fmt.Errorf("product '%s': invalid price %q", p.Name, p.Price)
	}
	if p.Stock < 0 {
		return nil, fmt.Errorf("product '%s': negative stock", p.Name)
	}
	return &models.Product{ID: p.ID, Name: p.Name, Price: price, Stock: p.Stock, IsActive: true}, nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(models.DateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", s)
	}
	return &t, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "courtdesk"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.RequestTimeout == 0 {
		c.API.HTTP.RequestTimeout = 15 * time.Second
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 5 * time.Minute
	}
	if c.RabbitMQ.RealtimeExchange == "" {
		c.RabbitMQ.RealtimeExchange = "realtime"
	}
	if c.RabbitMQ.MessagingQueue == "" {
		c.RabbitMQ.MessagingQueue = "messaging.outbound"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = "ARS"
	}

	if c.Scheduling.DefaultOpenTime == "" {
		c.Scheduling.DefaultOpenTime = models.DefaultOpenTime
	}
	if c.Scheduling.DefaultCloseTime == "" {
		c.Scheduling.DefaultCloseTime = models.DefaultCloseTime
	}
	if c.Scheduling.DefaultSlotDuration == 0 {
		c.Scheduling.DefaultSlotDuration = models.DefaultSlotDuration
	}
	if c.Scheduling.DefaultTimezone == "" {
		c.Scheduling.DefaultTimezone = models.DefaultTimezone
	}
	if c.Scheduling.MaxSeriesWeeks == 0 || c.Scheduling.MaxSeriesWeeks > models.MaxSeriesOccurrences {
		c.Scheduling.MaxSeriesWeeks = models.MaxSeriesOccurrences
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = 5 * time.Minute
	}
	if c.Worker.BackoffMult == 0 {
		c.Worker.BackoffMult = 2
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 10 * time.Second
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 256
	}

	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.OpenTime == "" {
			t.OpenTime = c.Scheduling.DefaultOpenTime
		}
		if t.CloseTime == "" {
			t.CloseTime = c.Scheduling.DefaultCloseTime
		}
		// Invalid clocks are left for Validate to report.
		if clock, err := models.NormalizeClock(t.OpenTime); err == nil {
			t.OpenTime = clock
		}
		if clock, err := models.NormalizeClock(t.CloseTime); err == nil {
			t.CloseTime = clock
		}
		if t.SlotDuration == 0 {
			t.SlotDuration = c.Scheduling.DefaultSlotDuration
		}
		if t.Timezone == "" {
			t.Timezone = c.Scheduling.DefaultTimezone
		}
	}
}
