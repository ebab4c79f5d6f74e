package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bugtrail/internal/domain"
)

// Config models bugtrail.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Users    []SeedUser      `yaml:"users"`
	Auth     AuthConfig      `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// SeedUser is a directory entry seeded into the users table at startup.
type SeedUser struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

type AuthConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
}

// WebhookConfig describes a dashboard endpoint that receives new activity
// entries.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Actions []string `yaml:"actions,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	seen := map[string]bool{}
	for i, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("config.users[%d].id is required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("config.users contains duplicate id %s", u.ID)
		}
		seen[u.ID] = true
		if u.Email == "" {
			return fmt.Errorf("user %s has no email", u.ID)
		}
		if !domain.Role(u.Role).Valid() {
			return fmt.Errorf("user %s has unknown role %q", u.ID, u.Role)
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bugtrail.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(projectID)))
	if err != nil {
		// The template is static; a parse failure is a programming error.
		panic(err)
	}
	return cfg
}

const defaultTemplate = `project:
  id: %s
  name: %s

users:
  - id: local-admin
    name: Local Admin
    email: admin@localhost
    role: admin

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true

webhooks: []
`
