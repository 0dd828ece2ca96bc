package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/dimension"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/pkg/database"
	"github.com/garyjia/execution-gate/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Impact   ImpactConfig   `mapstructure:"impact"`
	Scope    ScopeConfig    `mapstructure:"scope"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Export   ExportConfig   `mapstructure:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ApprovalConfig holds the approval gate policy
type ApprovalConfig struct {
	ExpiryWindow       time.Duration `mapstructure:"expiry_window"`
	AutomatedActors    []string      `mapstructure:"automated_actors"`
	BatchRiskThreshold float64       `mapstructure:"batch_risk_threshold"`
	CriticalRiskScore  float64       `mapstructure:"critical_risk_score"`
	AuditRetention     int           `mapstructure:"audit_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	WaitCheckInterval  time.Duration `mapstructure:"wait_check_interval"`
}

// ImpactConfig tunes the impact layer
type ImpactConfig struct {
	CriticalityThreshold int `mapstructure:"criticality_threshold"`
	CascadeDepth         int `mapstructure:"cascade_depth"`
}

// ScopeConfig tunes the scope layer
type ScopeConfig struct {
	ProtectedLayers []string `mapstructure:"protected_layers"`
}

// PlannerConfig selects the mode plans are evaluated for
type PlannerConfig struct {
	Mode string `mapstructure:"mode"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	ApproverChatID string        `mapstructure:"approver_chat_id"`
	APITimeout     time.Duration `mapstructure:"api_timeout"`
}

// ExportConfig holds the export directory for generated reports
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is present
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/gate.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	gate := approval.DefaultConfig()
	v.SetDefault("approval.expiry_window", gate.ExpiryWindow)
	v.SetDefault("approval.automated_actors", gate.AutomatedActors)
	v.SetDefault("approval.batch_risk_threshold", gate.BatchRiskThreshold)
	v.SetDefault("approval.critical_risk_score", gate.CriticalRiskScore)
	v.SetDefault("approval.audit_retention", approval.DefaultAuditRetention)
	v.SetDefault("approval.sweep_interval", 30*time.Second)
	v.SetDefault("approval.wait_check_interval", time.Minute)

	layers := dimension.DefaultConfig()
	v.SetDefault("impact.criticality_threshold", layers.CriticalityThreshold)
	v.SetDefault("impact.cascade_depth", layers.CascadeDepth)
	v.SetDefault("scope.protected_layers", []string{})
	v.SetDefault("planner.mode", string(layers.ActiveMode))

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.api_timeout", 10*time.Second)

	v.SetDefault("export.dir", "exports")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials keep their unprefixed names
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lark.approver_chat_id", "GATE_APPROVER_CHAT_ID")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Approval.ExpiryWindow <= 0 {
		errs = append(errs, errors.New("approval.expiry_window must be positive"))
	}
	if len(c.Approval.AutomatedActors) == 0 {
		errs = append(errs, errors.New("approval.automated_actors must not be empty"))
	}
	if c.Approval.BatchRiskThreshold < 0 || c.Approval.BatchRiskThreshold > 100 {
		errs = append(errs, errors.New("approval.batch_risk_threshold must be in 0..100"))
	}
	if c.Approval.CriticalRiskScore < 0 || c.Approval.CriticalRiskScore > 100 {
		errs = append(errs, errors.New("approval.critical_risk_score must be in 0..100"))
	}
	if c.Approval.SweepInterval <= 0 {
		errs = append(errs, errors.New("approval.sweep_interval must be positive"))
	}
	if c.Approval.WaitCheckInterval <= 0 {
		errs = append(errs, errors.New("approval.wait_check_interval must be positive"))
	}

	if c.Impact.CriticalityThreshold < 0 || c.Impact.CriticalityThreshold > 100 {
		errs = append(errs, errors.New("impact.criticality_threshold must be in 0..100"))
	}
	if c.Impact.CascadeDepth < 1 {
		errs = append(errs, errors.New("impact.cascade_depth must be at least 1"))
	}
	for _, l := range c.Scope.ProtectedLayers {
		if !entity.SystemLayer(l).IsValid() {
			errs = append(errs, fmt.Errorf("scope.protected_layers: unknown layer %q", l))
		}
	}
	if !entity.ExecutionMode(c.Planner.Mode).IsValid() {
		errs = append(errs, fmt.Errorf("planner.mode: unknown mode %q", c.Planner.Mode))
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			errs = append(errs, errors.New("lark.app_id is required when lark is enabled"))
		}
		if c.Lark.AppSecret == "" {
			errs = append(errs, errors.New("lark.app_secret is required when lark is enabled"))
		}
		if c.Lark.ApproverChatID == "" {
			errs = append(errs, errors.New("lark.approver_chat_id is required when lark is enabled"))
		}
	}

	return errors.Join(errs...)
}

// ToGate converts the approval section to the gate policy
func (c *Config) ToGate() approval.Config {
	return approval.Config{
		ExpiryWindow:       c.Approval.ExpiryWindow,
		AutomatedActors:    append([]string(nil), c.Approval.AutomatedActors...),
		BatchRiskThreshold: c.Approval.BatchRiskThreshold,
		CriticalRiskScore:  c.Approval.CriticalRiskScore,
	}
}

// ToLayers converts the impact, scope and planner sections to the layer tunables
func (c *Config) ToLayers() dimension.Config {
	protected := make([]entity.SystemLayer, 0, len(c.Scope.ProtectedLayers))
	for _, l := range c.Scope.ProtectedLayers {
		protected = append(protected, entity.SystemLayer(l))
	}
	return dimension.Config{
		CriticalityThreshold: c.Impact.CriticalityThreshold,
		CascadeDepth:         c.Impact.CascadeDepth,
		ProtectedLayers:      protected,
		ActiveMode:           entity.ExecutionMode(c.Planner.Mode),
	}
}

// ToDatabase converts the database section for pkg/database
func (c *Config) ToDatabase() database.Config {
	return database.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// ToLogger converts the logger section for pkg/utils
func (c *Config) ToLogger() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
