// Package manifest reads the optional per-project shipfix.yaml file, which
// overrides the build, test, start, and install commands derived from the
// project type.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/MichaLL27/shipfix/internal/models"
)

// Filename is the manifest file looked up at the project root.
const Filename = "shipfix.yaml"

// Manifest declares how a project is built and run.
type Manifest struct {
	Type    string            `yaml:"type"`
	Install string            `yaml:"install"`
	Build   string            `yaml:"build"`
	Test    string            `yaml:"test"`
	Start   string            `yaml:"start"`
	Env     map[string]string `yaml:"env"`
}

// Load reads the manifest from dir. A missing file returns (nil, nil).
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", Filename, err)
	}
	return &m, nil
}

// Apply copies non-empty manifest fields onto the project. Manifest values
// win over type defaults; env vars merge without overwriting secrets the
// user already set.
func (m *Manifest) Apply(p *models.Project) {
	if m == nil {
		return
	}
	if m.Type != "" {
		p.ProjectType = models.ProjectType(m.Type)
	}
	if m.Install != "" {
		p.InstallCmd = m.Install
	}
	if m.Build != "" {
		p.BuildCmd = m.Build
	}
	if m.Test != "" {
		p.TestCmd = m.Test
	}
	if m.Start != "" {
		p.StartCmd = m.Start
	}
	if len(m.Env) > 0 {
		if p.EnvVars == nil {
			p.EnvVars = make(map[string]models.EnvVar)
		}
		for k, v := range m.Env {
			if _, exists := p.EnvVars[k]; !exists {
				p.EnvVars[k] = models.EnvVar{Value: v}
			}
		}
	}
}

// Defaults returns the install/build/test/start commands for a project type.
// Empty strings mean the step is skipped.
func Defaults(t models.ProjectType) (install, build, test, start string) {
	switch t {
	case models.ProjectTypeNode:
		return "npm install", "npm run build --if-present", "npm test --if-present -- --watchAll=false", "npm start"
	case models.ProjectTypePython:
		return "pip install -r requirements.txt", "", "", "python main.py"
	case models.ProjectTypeGo:
		return "go mod download", "go build ./...", "go test ./...", "./app"
	case models.ProjectTypeStatic:
		return "", "", "", ""
	default:
		return "", "", "", ""
	}
}

// FillDefaults populates any empty command fields from the type defaults.
func FillDefaults(p *models.Project) {
	install, build, test, start := Defaults(p.ProjectType)
	if p.InstallCmd == "" {
		p.InstallCmd = install
	}
	if p.BuildCmd == "" {
		p.BuildCmd = build
	}
	if p.TestCmd == "" {
		p.TestCmd = test
	}
	if p.StartCmd == "" {
		p.StartCmd = start
	}
}

// Prepare readies a freshly registered project: detect the type from the
// normalized folder, apply any manifest overrides, and fill the remaining
// command fields from type defaults.
func Prepare(p *models.Project) error {
	if p.ProjectType == "" || p.ProjectType == models.ProjectTypeUnknown {
		p.ProjectType = DetectType(p.NormalizedPath)
	}
	m, err := Load(p.NormalizedPath)
	if err != nil {
		return err
	}
	m.Apply(p)
	FillDefaults(p)
	return nil
}

// DetectType inspects a normalized folder and guesses the project type.
func DetectType(dir string) models.ProjectType {
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return models.ProjectTypeNode
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return models.ProjectTypeGo
	}
	if _, err := os.Stat(filepath.Join(dir, "requirements.txt")); err == nil {
		return models.ProjectTypePython
	}
	if _, err := os.Stat(filepath.Join(dir, "main.py")); err == nil {
		return models.ProjectTypePython
	}
	if _, err := os.Stat(filepath.Join(dir, "index.html")); err == nil {
		return models.ProjectTypeStatic
	}
	return models.ProjectTypeUnknown
}
