package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.NotifyDelay)
	assert.Equal(t, []string{"manager", "gm"}, cfg.Workflow.ManagerRoles)
	assert.Equal(t, 1, cfg.Certificates.ValidityYears)

	kind, ok := cfg.ReportKindFor("load test")
	require.True(t, ok)
	assert.Equal(t, domain.ReportLoadTest, kind)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("certificates:\n  validity_years: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Certificates.ValidityYears)
	assert.Equal(t, "A4", cfg.Certificates.DefaultFormat)
	assert.NotEmpty(t, cfg.Seed.Users)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":   "store:\n  driver: mysql\n",
		"postgres": "store:\n  driver: postgres\n",
		"format":   "certificates:\n  default_format: Letter\n",
		"kind":     "service_types:\n  Welding: welding\n",
		"poll":     "sync:\n  poll_interval: 0s\n",
		"webhook":  "webhooks:\n  - events: [x]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	_, err = Load(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.SeedUsers(), 6)
	assert.Equal(t, "admin", cfg.SeedUsers()[0].CurrentRole)
}

func TestSeedClients(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clients := Default().SeedClients(now)
	require.Len(t, clients, 1)
	assert.Equal(t, domain.ClientActive, clients[0].Status)
	assert.Equal(t, []domain.Assignment{{Region: "West", Team: "A"}}, clients[0].Assignments)
}
