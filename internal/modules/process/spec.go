package process

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dwebshell/core/internal/shared/types"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Pattern matches manifest files below the manifest directory
const Pattern = "**/*.{yaml,yml,toml}"

// Exec describes how to start the module's process
type Exec struct {
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty" toml:"dir,omitempty"`
}

// Spec is one manifest file: the module identity plus its process
type Spec struct {
	Module types.Manifest `yaml:"module" toml:"module"`
	Exec   Exec           `yaml:"exec" toml:"exec"`
	// Path is the manifest file this was read from
	Path string `yaml:"-" toml:"-"`
}

// ParseSpec decodes data as YAML or TOML depending on the extension of path
func ParseSpec(path string, data []byte) (*Spec, error) {
	var spec Spec
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("parse %s: unsupported manifest format %q", path, ext)
	}

	if spec.Exec.Command == "" {
		return nil, fmt.Errorf("parse %s: exec.command is required", path)
	}
	if !spec.Module.HasCategory(types.CategoryProcess) {
		spec.Module.Categories = append(spec.Module.Categories, types.CategoryProcess)
	}

	// relative paths are resolved against the manifest's directory
	base := filepath.Dir(path)
	if spec.Exec.Dir == "" {
		spec.Exec.Dir = base
	} else if !filepath.IsAbs(spec.Exec.Dir) {
		spec.Exec.Dir = filepath.Join(base, spec.Exec.Dir)
	}
	if strings.HasPrefix(spec.Exec.Command, ".") {
		spec.Exec.Command = filepath.Join(base, spec.Exec.Command)
	}

	spec.Path = path
	return &spec, nil
}

// LoadSpec reads and parses one manifest file
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSpec(path, data)
}

// Discover returns the manifest files below dir in lexical order
func Discover(dir string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("discover manifests in %s: %w", dir, err)
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(dir, filepath.FromSlash(m)))
	}
	slices.Sort(paths)
	return paths, nil
}

// Environ returns the child environment: the parent's plus e.Env
func (e Exec) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(e.Env))
	for k := range e.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.Env[k])
	}
	return env
}
