package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bugtrail/internal/config"
)

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
project:
  id: proj-1
  name: Payments

users:
  - id: tess
    name: Tess
    email: tess@example.com
    role: tester
  - id: dev
    name: Dev
    email: dev@example.com
    role: developer

auth:
  jwt_secret: hunter2
  allow_legacy_actor_header: false

webhooks:
  - url: http://dashboard.local/hook
    actions: [status_changed, validated]
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Project.ID != "proj-1" || cfg.Project.Name != "Payments" {
		t.Fatalf("project = %+v", cfg.Project)
	}
	if len(cfg.Users) != 2 || cfg.Users[0].Role != "tester" {
		t.Fatalf("users = %+v", cfg.Users)
	}
	if cfg.Auth.JWTSecret != "hunter2" || cfg.Auth.AllowLegacyActorHeader {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
	if len(cfg.Webhooks) != 1 || len(cfg.Webhooks[0].Actions) != 2 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing project id", "project:\n  name: P\n", "project.id"},
		{"duplicate user id", "project:\n  id: p\nusers:\n  - {id: u, email: a@b, role: tester}\n  - {id: u, email: c@d, role: tester}\n", "duplicate id"},
		{"missing email", "project:\n  id: p\nusers:\n  - {id: u, role: tester}\n", "no email"},
		{"unknown role", "project:\n  id: p\nusers:\n  - {id: u, email: a@b, role: manager}\n", "unknown role"},
		{"webhook without url", "project:\n  id: p\nwebhooks:\n  - actions: [reported]\n", "webhooks[0].url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("proj-1")))
	if err != nil {
		t.Fatalf("default template does not validate: %v", err)
	}
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].ID != "local-admin" || cfg.Users[0].Role != "admin" {
		t.Fatalf("seed users = %+v", cfg.Users)
	}
	if !cfg.Auth.AllowLegacyActorHeader {
		t.Fatal("default should allow the legacy actor header for local use")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bugtrail.yml"), []byte(config.GenerateDefault("p")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil || cfg.Project.ID != "p" {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
}
