// Package manifest handles falcon.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest looked for by FindAndLoad.
const FileName = "falcon.toml"

// Manifest represents a falcon.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Builtins BuiltinsConfig `toml:"builtins"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogConfig      `toml:"log"`

	// Dir is the directory containing the falcon.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// RuntimeConfig configures the VM.
type RuntimeConfig struct {
	MaxCallDepth int  `toml:"max-call-depth"`
	Trace        bool `toml:"trace"`
}

// BuiltinsConfig configures host built-ins.
type BuiltinsConfig struct {
	ScanPort        int    `toml:"scan-port"`
	ScanTimeout     string `toml:"scan-timeout"`
	ScanFirst       int    `toml:"scan-first"`
	ScanLast        int    `toml:"scan-last"`
	ScanConcurrency int    `toml:"scan-concurrency"`

	// ScanTimeoutDuration is ScanTimeout parsed at load time.
	ScanTimeoutDuration time.Duration `toml:"-"`
}

// CacheConfig configures the compiled-program cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no falcon.toml exists.
func Default() *Manifest {
	m := &Manifest{
		Runtime: RuntimeConfig{MaxCallDepth: 1024},
		Builtins: BuiltinsConfig{
			ScanPort:        80,
			ScanTimeout:     "50ms",
			ScanFirst:       1,
			ScanLast:        254,
			ScanConcurrency: 32,
		},
		Cache: CacheConfig{Path: filepath.Join(".falcon", "cache.db")},
	}
	m.Builtins.ScanTimeoutDuration = 50 * time.Millisecond
	if wd, err := os.Getwd(); err == nil {
		m.Dir = wd
	}
	return m
}

// Load parses a falcon.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the manifest at path. Keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	d, err := time.ParseDuration(m.Builtins.ScanTimeout)
	if err != nil {
		return fmt.Errorf("builtins.scan-timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("builtins.scan-timeout must be positive, got %s", m.Builtins.ScanTimeout)
	}
	m.Builtins.ScanTimeoutDuration = d

	if m.Runtime.MaxCallDepth <= 0 {
		return fmt.Errorf("runtime.max-call-depth must be positive, got %d", m.Runtime.MaxCallDepth)
	}
	if m.Builtins.ScanPort <= 0 || m.Builtins.ScanPort > 65535 {
		return fmt.Errorf("builtins.scan-port %d out of range", m.Builtins.ScanPort)
	}
	if m.Builtins.ScanFirst < 0 || m.Builtins.ScanLast > 255 || m.Builtins.ScanFirst > m.Builtins.ScanLast {
		return fmt.Errorf("builtins scan range %d-%d is invalid", m.Builtins.ScanFirst, m.Builtins.ScanLast)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a falcon.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the project's entry script, or ""
// when none is configured.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// CachePath returns the absolute path of the program cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
