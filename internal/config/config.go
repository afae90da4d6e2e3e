package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "devops-sync-config.yaml"
	OutputDir      = "_bmad-output"
	BmadDir        = "_bmad"
	RunFileName    = ".boardsync-run.yaml"
	HistoryDBName  = ".boardsync-history.db"

	// PATEnv holds the personal access token used for REST calls.
	PATEnv    = "AZURE_DEVOPS_EXT_PAT"
	EnvPrefix = "BOARDSYNC"
)

// Config is the sync configuration. Relative paths are resolved against the
// directory of the config file. commandTimeout is bare seconds (120) or a
// duration string ("90s").
type Config struct {
	OrganizationURL   string        `mapstructure:"organizationUrl" yaml:"organizationUrl"`
	ProjectName       string        `mapstructure:"projectName" yaml:"projectName"`
	ProcessTemplate   string        `mapstructure:"processTemplate" yaml:"processTemplate"`
	AreaPath          string        `mapstructure:"areaPath" yaml:"areaPath"`
	IterationRootPath string        `mapstructure:"iterationRootPath" yaml:"iterationRootPath"`
	AttachStoryFiles  bool          `mapstructure:"attachStoryFiles" yaml:"attachStoryFiles"`
	EpicsPath         string        `mapstructure:"epicsPath" yaml:"epicsPath"`
	StoriesDir        string        `mapstructure:"storiesDir" yaml:"storiesDir"`
	SprintStatusPath  string        `mapstructure:"sprintStatusPath" yaml:"sprintStatusPath"`
	StatePath         string        `mapstructure:"statePath" yaml:"statePath"`
	CommandTimeout    time.Duration `mapstructure:"-" yaml:"commandTimeout"`

	// PAT is read from the environment only.
	PAT  string `mapstructure:"-" yaml:"-"`
	Path string `mapstructure:"-" yaml:"-"`
}

// Default returns the configuration written by init.
func Default() *Config {
	return &Config{
		ProcessTemplate:  "Agile",
		EpicsPath:        filepath.Join("planning-artifacts", "epics.md"),
		StoriesDir:       "implementation-artifacts",
		SprintStatusPath: filepath.Join("implementation-artifacts", "sprint-status.yaml"),
		StatePath:        "devops-sync.yaml",
		CommandTimeout:   120 * time.Second,
	}
}

// Dir is the directory holding the config file.
func (c *Config) Dir() string {
	if c.Path == "" {
		return "."
	}
	return filepath.Dir(c.Path)
}

// RunFilePath is the last-run record kept next to the state file.
func (c *Config) RunFilePath() string {
	return filepath.Join(filepath.Dir(c.StatePath), RunFileName)
}

// HistoryPath is the run history database kept next to the state file.
func (c *Config) HistoryPath() string {
	return filepath.Join(filepath.Dir(c.StatePath), HistoryDBName)
}

// Validate reports settings a sync cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if c.ProjectName == "" {
		problems = append(problems, "projectName is required")
	}
	if c.EpicsPath == "" {
		problems = append(problems, "epicsPath is required")
	}
	if c.StatePath == "" {
		problems = append(problems, "statePath is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config %s: %s", c.Path, strings.Join(problems, "; "))
	}
	return nil
}

// MissingConfigError reports absence of a sync config file.
type MissingConfigError struct {
	BaseDir string
}

func (e *MissingConfigError) Error() string {
	if e == nil || e.BaseDir == "" {
		return "config file not found"
	}
	return fmt.Sprintf("no %s found from %s (run `boardsync init`)", ConfigFileName, e.BaseDir)
}

// DetectConfig searches the working directory and its parents for a config
// file.
func DetectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return DetectConfigFrom(cwd)
}

// DetectConfigFrom checks basePath, its _bmad-output/ and _bmad/ directories,
// then each parent directory in turn.
func DetectConfigFrom(basePath string) (string, error) {
	dir := basePath
	for {
		for _, candidate := range []string{
			filepath.Join(dir, ConfigFileName),
			filepath.Join(dir, OutputDir, ConfigFileName),
			filepath.Join(dir, BmadDir, ConfigFileName),
		} {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", &MissingConfigError{BaseDir: basePath}
}

var envKeys = []string{
	"organizationUrl", "projectName", "processTemplate", "areaPath",
	"iterationRootPath", "attachStoryFiles", "epicsPath", "storiesDir",
	"sprintStatusPath", "statePath", "commandTimeout",
}

// Load reads the config at path, or discovers one when path is empty. A .env
// file next to the config (or in the working directory) is loaded first;
// BOARDSYNC_<KEY> variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		found, err := DetectConfig()
		if err != nil {
			return nil, err
		}
		path = found
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingConfigError{BaseDir: filepath.Dir(abs)}
		}
		return nil, err
	}

	loadDotEnv(filepath.Dir(abs))

	cfg := Default()
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range envKeys {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", abs, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", abs, err)
	}
	if v.IsSet("commandTimeout") {
		timeout, err := ParseTimeout(v.GetString("commandTimeout"))
		if err != nil {
			return nil, fmt.Errorf("parse config %s: commandTimeout: %w", abs, err)
		}
		cfg.CommandTimeout = timeout
	}

	cfg.Path = abs
	cfg.PAT = os.Getenv(PATEnv)
	cfg.OrganizationURL = strings.TrimRight(cfg.OrganizationURL, "/")
	cfg.EpicsPath = resolve(cfg.Dir(), cfg.EpicsPath)
	cfg.StoriesDir = resolve(cfg.Dir(), cfg.StoriesDir)
	cfg.SprintStatusPath = resolve(cfg.Dir(), cfg.SprintStatusPath)
	cfg.StatePath = resolve(cfg.Dir(), cfg.StatePath)
	return cfg, nil
}

// ParseTimeout reads a timeout given as bare seconds ("120", "1.5") or as a
// Go duration ("2m"). An empty value is zero.
func ParseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: use seconds or a duration like 90s", value)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", value)
	}
	return d, nil
}

// loadDotEnv never overrides variables already set.
func loadDotEnv(dirs ...string) {
	for _, dir := range append(dirs, ".") {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// ErrConfigExists is returned by WriteDefault when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes a starter config to path.
func WriteDefault(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if cfg == nil {
		cfg = Default()
	}
	var buf bytes.Buffer
	buf.WriteString("# boardsync configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fileView(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// fileView renders the timeout in its duration string form.
func fileView(cfg *Config) map[string]any {
	return map[string]any{
		"organizationUrl":   cfg.OrganizationURL,
		"projectName":       cfg.ProjectName,
		"processTemplate":   cfg.ProcessTemplate,
		"areaPath":          cfg.AreaPath,
		"iterationRootPath": cfg.IterationRootPath,
		"attachStoryFiles":  cfg.AttachStoryFiles,
		"epicsPath":         filepath.ToSlash(cfg.EpicsPath),
		"storiesDir":        filepath.ToSlash(cfg.StoriesDir),
		"sprintStatusPath":  filepath.ToSlash(cfg.SprintStatusPath),
		"statePath":         filepath.ToSlash(cfg.StatePath),
		"commandTimeout":    cfg.CommandTimeout.String(),
	}
}
