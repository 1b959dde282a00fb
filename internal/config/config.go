package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"certdesk/internal/domain"
)

const fileName = "certdesk.yml"

// Config models certdesk.yml.
type Config struct {
	Store struct {
		Driver     string `yaml:"driver"`
		DSN        string `yaml:"dsn"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"store"`
	Sync struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		NotifyDelay  time.Duration `yaml:"notify_delay"`
		Debounce     time.Duration `yaml:"debounce"`
		WatchFiles   bool          `yaml:"watch_files"`
	} `yaml:"sync"`
	Workflow struct {
		SupervisorRoles []string `yaml:"supervisor_roles"`
		ManagerRoles    []string `yaml:"manager_roles"`
	} `yaml:"workflow"`
	Certificates struct {
		ValidityYears int    `yaml:"validity_years"`
		DefaultFormat string `yaml:"default_format"`
	} `yaml:"certificates"`
	// ServiceTypes maps a service type name to the report kind it produces.
	ServiceTypes map[string]string `yaml:"service_types"`
	Server       struct {
		Addr                  string `yaml:"addr"`
		BasePath              string `yaml:"base_path"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"server"`
	Seed     Seed            `yaml:"seed"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type Seed struct {
	Users   []SeedUser   `yaml:"users"`
	Clients []SeedClient `yaml:"clients"`
}

type SeedUser struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Email  string   `yaml:"email"`
	Roles  []string `yaml:"roles"`
	Region string   `yaml:"region"`
	Team   string   `yaml:"team"`
}

type SeedClient struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	ContactPerson string `yaml:"contact_person"`
	Email         string `yaml:"email"`
	Phone         string `yaml:"phone"`
	Address       string `yaml:"address"`
	BusinessType  string `yaml:"business_type"`
	Region        string `yaml:"region"`
	Team          string `yaml:"team"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with certdesk config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or postgres")
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("config.store.max_retries must not be negative")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("config.sync.poll_interval must be positive")
	}
	if c.Sync.NotifyDelay < 0 {
		return fmt.Errorf("config.sync.notify_delay must not be negative")
	}
	if len(c.Workflow.SupervisorRoles) == 0 {
		return fmt.Errorf("config.workflow.supervisor_roles is required")
	}
	if len(c.Workflow.ManagerRoles) == 0 {
		return fmt.Errorf("config.workflow.manager_roles is required")
	}
	if c.Certificates.ValidityYears < 1 {
		return fmt.Errorf("config.certificates.validity_years must be at least 1")
	}
	switch domain.CertificateFormat(c.Certificates.DefaultFormat) {
	case domain.FormatA4, domain.FormatCard:
	default:
		return fmt.Errorf("config.certificates.default_format must be A4 or Card")
	}
	for svc, kind := range c.ServiceTypes {
		if strings.TrimSpace(svc) == "" {
			return fmt.Errorf("config.service_types has empty service name")
		}
		if _, err := domain.ParseReportKind(kind); err != nil {
			return fmt.Errorf("service type %s: %w", svc, err)
		}
	}
	seen := map[string]bool{}
	for _, u := range c.Seed.Users {
		if u.ID == "" {
			return fmt.Errorf("config.seed.users contains empty id")
		}
		if seen[u.ID] {
			return fmt.Errorf("config.seed.users has duplicate id %s", u.ID)
		}
		seen[u.ID] = true
	}
	for _, cl := range c.Seed.Clients {
		if cl.ID == "" || cl.Name == "" {
			return fmt.Errorf("config.seed.clients entries need id and name")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ReportKindFor returns the report kind configured for a service type.
func (c *Config) ReportKindFor(serviceType string) (domain.ReportKind, bool) {
	for svc, kind := range c.ServiceTypes {
		if strings.EqualFold(svc, strings.TrimSpace(serviceType)) {
			return domain.ReportKind(kind), true
		}
	}
	return "", false
}

// SeedUsers converts seed entries into active users.
func (c *Config) SeedUsers() []domain.User {
	out := make([]domain.User, 0, len(c.Seed.Users))
	for _, u := range c.Seed.Users {
		user := domain.User{
			ID:     u.ID,
			Name:   u.Name,
			Email:  u.Email,
			Roles:  append([]string(nil), u.Roles...),
			Region: u.Region,
			Team:   u.Team,
			Active: true,
		}
		if len(user.Roles) > 0 {
			user.CurrentRole = user.Roles[0]
		}
		out = append(out, user)
	}
	return out
}

// SeedClients converts seed entries into active clients created at now.
func (c *Config) SeedClients(now time.Time) []domain.Client {
	out := make([]domain.Client, 0, len(c.Seed.Clients))
	for _, cl := range c.Seed.Clients {
		client := domain.Client{
			ID:            cl.ID,
			Name:          cl.Name,
			ContactPerson: cl.ContactPerson,
			Email:         cl.Email,
			Phone:         cl.Phone,
			Address:       cl.Address,
			BusinessType:  cl.BusinessType,
			Status:        domain.ClientActive,
			CreatedAt:     now.UTC(),
		}
		if cl.Region != "" || cl.Team != "" {
			client.Assignments = []domain.Assignment{{Region: cl.Region, Team: cl.Team}}
		}
		out = append(out, client)
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  driver: sqlite
  dsn: ""
  max_retries: 3

sync:
  poll_interval: 2s
  notify_delay: 50ms
  debounce: 100ms
  watch_files: true

workflow:
  supervisor_roles: [supervisor]
  manager_roles: [manager, gm]

certificates:
  validity_years: 1
  default_format: A4

service_types:
  Inspection: inspection
  Equipment Inspection: inspection
  Lifting Inspection: inspection
  Calibration: calibration
  Load Test: load_test
  Training: training
  Safety Training: training

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  allow_legacy_user_header: false

seed:
  users:
    - id: u-admin
      name: Admin
      email: admin@certdesk.local
      roles: [admin]
    - id: u-supervisor
      name: Site Supervisor
      email: supervisor@certdesk.local
      roles: [supervisor]
    - id: u-manager
      name: Operations Manager
      email: manager@certdesk.local
      roles: [manager]
    - id: u-gm
      name: General Manager
      email: gm@certdesk.local
      roles: [gm]
    - id: u-inspector
      name: Field Inspector
      email: inspector@certdesk.local
      roles: [inspector]
    - id: u-finance
      name: Finance Officer
      email: finance@certdesk.local
      roles: [finance]
  clients:
    - id: c-001
      name: PT Maju Jaya
      contact_person: Budi
      email: budi@majujaya.example
      business_type: Manufacturing
      region: West
      team: A

webhooks: []
`
