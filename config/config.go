// Package config loads play files: the hosts to back with containers and
// the tasks to run on each of them.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvRunID = "DOCKHOST_RUN_ID"
	EnvImage = "DOCKHOST_IMAGE"
)

// HostPlaceholder in a fetch destination is replaced by the hostname.
const HostPlaceholder = "{host}"

// Play is a parsed play file.
type Play struct {
	Name         string          `yaml:"name" toml:"name"`
	RunID        string          `yaml:"run_id" toml:"run_id"`
	DockerHost   string          `yaml:"docker_host" toml:"docker_host"`
	Pull         *bool           `yaml:"pull" toml:"pull"`
	Journal      string          `yaml:"journal" toml:"journal"`
	DefaultImage string          `yaml:"default_image" toml:"default_image"`
	Hosts        map[string]Host `yaml:"hosts" toml:"hosts"`
	Tasks        []Task          `yaml:"tasks" toml:"tasks"`

	// BaseDir resolves relative local paths. Load sets it to the file's directory.
	BaseDir string `yaml:"-" toml:"-"`
}

// Host configures one logical host.
type Host struct {
	Image string `yaml:"image" toml:"image"`
}

// Task is one step run on every host. Exactly one of Raw, Put and Fetch is set.
type Task struct {
	Name  string    `yaml:"name" toml:"name"`
	Raw   string    `yaml:"raw" toml:"raw"`
	Put   *Transfer `yaml:"put" toml:"put"`
	Fetch *Transfer `yaml:"fetch" toml:"fetch"`
}

// Transfer names the source and destination of a file copy.
type Transfer struct {
	Src  string `yaml:"src" toml:"src"`
	Dest string `yaml:"dest" toml:"dest"`
}

// ValidationError describes an invalid play field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Load reads a play file. Files ending in .toml are parsed as TOML,
// everything else as YAML. Environment overrides are applied and the
// result is validated.
func Load(file string) (*Play, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		format = "toml"
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	if abs, err := filepath.Abs(filepath.Dir(file)); err == nil {
		p.BaseDir = abs
	}
	p.ApplyEnv()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return p, nil
}

// Parse decodes play content in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Play, error) {
	p := &Play{}
	switch format {
	case "toml":
		if _, err := toml.Decode(string(data), p); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if p.Hosts == nil {
		p.Hosts = make(map[string]Host)
	}
	return p, nil
}

// ApplyEnv applies DOCKHOST_RUN_ID and DOCKHOST_IMAGE. The run ID overrides
// the file; the image only fills an empty default.
func (p *Play) ApplyEnv() {
	if v := os.Getenv(EnvRunID); v != "" {
		p.RunID = v
	}
	if v := os.Getenv(EnvImage); v != "" && p.DefaultImage == "" {
		p.DefaultImage = v
	}
}

// Validate checks that every host has an image and every task is well formed.
func (p *Play) Validate() error {
	if len(p.Hosts) == 0 {
		return &ValidationError{Field: "hosts", Message: "at least one host is required"}
	}
	for _, name := range p.HostNames() {
		if p.ImageFor(name) == "" {
			return &ValidationError{
				Field:   "hosts." + name + ".image",
				Message: "no image set and no default_image or " + EnvImage + " available",
			}
		}
	}

	for i, task := range p.Tasks {
		field := fmt.Sprintf("tasks[%d]", i)
		set := 0
		if task.Raw != "" {
			set++
		}
		if task.Put != nil {
			set++
		}
		if task.Fetch != nil {
			set++
		}
		if set != 1 {
			return &ValidationError{Field: field, Message: "exactly one of raw, put or fetch is required"}
		}

		switch {
		case task.Put != nil:
			if task.Put.Src == "" {
				return &ValidationError{Field: field + ".put.src", Message: "required"}
			}
			if !path.IsAbs(task.Put.Dest) {
				return &ValidationError{Field: field + ".put.dest", Message: "must be an absolute container path"}
			}
		case task.Fetch != nil:
			if !path.IsAbs(task.Fetch.Src) {
				return &ValidationError{Field: field + ".fetch.src", Message: "must be an absolute container path"}
			}
			if task.Fetch.Dest == "" {
				return &ValidationError{Field: field + ".fetch.dest", Message: "required"}
			}
		}
	}
	return nil
}

// HostNames returns the host names in sorted order.
func (p *Play) HostNames() []string {
	names := make([]string, 0, len(p.Hosts))
	for name := range p.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ImageFor returns the image of a host, falling back to the default image.
func (p *Play) ImageFor(host string) string {
	if h, ok := p.Hosts[host]; ok && h.Image != "" {
		return h.Image
	}
	return p.DefaultImage
}

// PullEnabled reports whether missing images are pulled. Defaults to true.
func (p *Play) PullEnabled() bool {
	return p.Pull == nil || *p.Pull
}

// LocalPath makes a local path absolute against BaseDir and expands the
// {host} placeholder.
func (p *Play) LocalPath(local, host string) string {
	local = strings.ReplaceAll(local, HostPlaceholder, host)
	if filepath.IsAbs(local) {
		return filepath.Clean(local)
	}
	base := p.BaseDir
	if base == "" {
		base, _ = os.Getwd()
	}
	return filepath.Join(base, local)
}

// Describe returns a one-line summary of a task.
func (t Task) Describe() string {
	if t.Name != "" {
		return t.Name
	}
	switch {
	case t.Put != nil:
		return "put " + t.Put.Src + " -> " + t.Put.Dest
	case t.Fetch != nil:
		return "fetch " + t.Fetch.Src + " -> " + t.Fetch.Dest
	default:
		return "raw " + t.Raw
	}
}
