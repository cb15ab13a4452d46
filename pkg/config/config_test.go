package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microai-dao/trustcore/pkg/guardian"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOG_LEVEL", "DATABASE_URL", "DATABASE_DRIVER", "EPI_THRESHOLD", "POLICY_VERSION", "TRUSTCORE_CONFIG", "ENVIRONMENT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "policy-v1", cfg.PolicyVersion)
	assert.Equal(t, 0.70, cfg.EPIThreshold)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://localhost/trust")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("EPI_THRESHOLD", "0.85")
	t.Setenv("TRUSTCORE_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.DatabaseDrv, "driver defaults to postgres when a url is set")
	assert.Equal(t, 0.85, cfg.EPIThreshold)
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	t.Setenv("EPI_THRESHOLD", "very high")
	t.Setenv("TRUSTCORE_CONFIG", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustcore.yaml")
	content := `
orgs:
  - org1
  - org2
chains:
  - polygon
issuer: acme-trust
guardians:
  - guardian_id: alice
    name: Alice
    class: class_a
  - guardian_id: bob
    name: Bob
    class: class_b
rules:
  - name: min-epi
    expression: "epi_score >= 0.7"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	fc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"org1", "org2"}, fc.Orgs)
	assert.Equal(t, []string{"polygon"}, fc.Chains)
	assert.Equal(t, "acme-trust", fc.Issuer)
	require.Len(t, fc.Guardians, 2)
	assert.Equal(t, guardian.ClassA, fc.Guardians[0].Class)
	require.Len(t, fc.Rules, 1)
	assert.Equal(t, "min-epi", fc.Rules[0].Name)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/does/not/exist.yaml")
	assert.Error(t, err)
}
