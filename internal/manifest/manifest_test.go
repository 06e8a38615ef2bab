package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MichaLL27/shipfix/internal/models"
)

func TestLoad_MissingFile(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLoad_ParsesAndApplies(t *testing.T) {
	dir := t.TempDir()
	content := `type: node
build: npm run build:prod
start: node server.js
env:
  API_URL: https://api.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename), []byte(content), 0644))

	m, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, m)

	p := &models.Project{
		EnvVars: map[string]models.EnvVar{
			"SECRET": {Value: "keep", IsSecret: true},
		},
	}
	m.Apply(p)

	assert.Equal(t, models.ProjectTypeNode, p.ProjectType)
	assert.Equal(t, "npm run build:prod", p.BuildCmd)
	assert.Equal(t, "node server.js", p.StartCmd)
	assert.Equal(t, "https://api.example.com", p.EnvVars["API_URL"].Value)
	assert.Equal(t, "keep", p.EnvVars["SECRET"].Value, "existing vars are not overwritten")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename), []byte("{broken"), 0644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestFillDefaults(t *testing.T) {
	p := &models.Project{ProjectType: models.ProjectTypeNode, BuildCmd: "custom build"}
	FillDefaults(p)
	assert.Equal(t, "custom build", p.BuildCmd, "explicit command wins")
	assert.Equal(t, "npm install", p.InstallCmd)
	assert.Equal(t, "npm start", p.StartCmd)
}

func TestDetectType(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, models.ProjectTypeUnknown, DetectType(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0644))
	assert.Equal(t, models.ProjectTypeStatic, DetectType(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0644))
	assert.Equal(t, models.ProjectTypeNode, DetectType(dir))
}
