package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "coderloop.json"

// Config represents the coderloop.json configuration file
type Config struct {
	Version       string    `json:"version" validate:"required"`
	WorkspaceRoot string    `json:"workspace_root"`
	Oracle        Oracle    `json:"oracle"`
	Backend       Backend   `json:"backend"`
	Discovery     Discovery `json:"discovery"`
	Policy        Policy    `json:"policy"`
}

// Oracle configures the code-generation model. Credentials are never stored
// here; they come from the environment.
type Oracle struct {
	Model       string  `json:"model" validate:"notblank"`
	BaseURL     string  `json:"base_url,omitempty" validate:"omitempty,http_url"`
	Temperature float32 `json:"temperature" validate:"gte=0,lte=2"`
	TimeoutS    int     `json:"timeout_s" validate:"gte=0"`
}

// Backend configures how the generated server is built, run and probed.
type Backend struct {
	ProjectDir    string   `json:"project_dir" validate:"required"`
	BuildCmd      []string `json:"build_cmd" validate:"min=1"`
	RunCmd        []string `json:"run_cmd" validate:"min=1"`
	BaseURL       string   `json:"base_url" validate:"http_url"`
	WarmupS       int      `json:"warmup_s" validate:"gte=0"`
	ProbeTimeoutS int      `json:"probe_timeout_s" validate:"gte=0"`
	MaxBugCount   int      `json:"max_bug_count" validate:"gte=1"`
	BuildTimeoutS int      `json:"build_timeout_s" validate:"gte=0"`
}

// Discovery configures the architect's external URL checks.
type Discovery struct {
	ProbeTimeoutS int `json:"probe_timeout_s" validate:"gte=0"`
}

// Policy contains run policy settings
type Policy struct {
	ContinueOnAgentFailure bool `json:"continue_on_agent_failure"`
	RequireConfirmation    bool `json:"require_confirmation"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:       "1.0",
		WorkspaceRoot: ".",
		Oracle: Oracle{
			Model:       "gpt-4o",
			Temperature: 0.1,
			TimeoutS:    120,
		},
		Backend: Backend{
			ProjectDir:    "generated/backend",
			BuildCmd:      []string{"go", "build", "./..."},
			RunCmd:        []string{"go", "run", "."},
			BaseURL:       "http://localhost:8080",
			WarmupS:       5,
			ProbeTimeoutS: 5,
			MaxBugCount:   10,
			BuildTimeoutS: 0,
		},
		Discovery: Discovery{
			ProbeTimeoutS: 5,
		},
		Policy: Policy{
			ContinueOnAgentFailure: true,
			RequireConfirmation:    true,
		},
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON path so errors name what the
// user actually wrote in coderloop.json.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

var hints = map[string]string{
	"version":               "Add a version field like:\n  \"version\": \"1.0\"",
	"oracle.model":          "Name the chat model to generate code with:\n  \"oracle\": {\n    \"model\": \"gpt-4o\"\n  }",
	"oracle.temperature":    "Temperature must be between 0 and 2",
	"oracle.base_url":       "Point at an OpenAI-compatible API, for example:\n  \"base_url\": \"https://api.openai.com/v1\"",
	"backend.project_dir":   "Choose where generated code is written:\n  \"backend\": {\n    \"project_dir\": \"generated/backend\"\n  }",
	"backend.build_cmd":     "Specify the build command:\n  \"build_cmd\": [\"go\", \"build\", \"./...\"]",
	"backend.run_cmd":       "Specify the command that starts the server:\n  \"run_cmd\": [\"go\", \"run\", \".\"]",
	"backend.base_url":      "Use the address the generated server listens on:\n  \"base_url\": \"http://localhost:8080\"",
	"backend.max_bug_count": "Allow at least one repair attempt:\n  \"max_bug_count\": 10",
}

// Validate checks the configuration and returns the first problem found,
// with a hint on how to fix it.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("configuration error: %w", err)
	}
	return describe(fieldErrs[0])
}

func describe(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")

	var problem string
	switch {
	case fe.Tag() == "required" || fe.Tag() == "notblank":
		problem = fmt.Sprintf("missing required field '%s'", field)
	case fe.Tag() == "min":
		problem = fmt.Sprintf("'%s' is empty", field)
	case fe.Tag() == "gte" && fe.Param() == "0":
		problem = fmt.Sprintf("'%s' must not be negative (got %v)", field, fe.Value())
	default:
		problem = fmt.Sprintf("invalid '%s' value: %v", field, fe.Value())
	}

	hint, ok := hints[field]
	if !ok {
		hint = "Use 0 to take the default, or a positive number of seconds"
	}
	return fmt.Errorf("configuration error: %s\n\nHint: %s", problem, hint)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// OracleTimeout is the per-request HTTP timeout for the model API.
func (c *Config) OracleTimeout() time.Duration { return seconds(c.Oracle.TimeoutS) }

// Warmup is the delay between launching the server and the first probe.
func (c *Config) Warmup() time.Duration { return seconds(c.Backend.WarmupS) }

// ProbeTimeout bounds each probe of the generated server.
func (c *Config) ProbeTimeout() time.Duration { return seconds(c.Backend.ProbeTimeoutS) }

// BuildTimeout bounds a build; zero means unbounded.
func (c *Config) BuildTimeout() time.Duration { return seconds(c.Backend.BuildTimeoutS) }

// DiscoveryProbeTimeout bounds each external URL check.
func (c *Config) DiscoveryProbeTimeout() time.Duration { return seconds(c.Discovery.ProbeTimeoutS) }

// ProjectDir resolves the generated project directory against the workspace root.
func (c *Config) ProjectDir(workspaceRoot string) string {
	if filepath.IsAbs(c.Backend.ProjectDir) {
		return c.Backend.ProjectDir
	}
	return filepath.Join(workspaceRoot, c.Backend.ProjectDir)
}

// LoadFromFile loads a configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// FindInTree searches from dir up to the filesystem root for coderloop.json.
// It returns "" when none exists.
func FindInTree(dir string) string {
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// WorkspaceRootFor resolves workspace_root relative to the directory holding
// the config file.
func (c *Config) WorkspaceRootFor(configPath string) string {
	configDir := filepath.Dir(configPath)
	if c.WorkspaceRoot == "" || c.WorkspaceRoot == "." {
		return configDir
	}
	if filepath.IsAbs(c.WorkspaceRoot) {
		return c.WorkspaceRoot
	}
	return filepath.Join(configDir, c.WorkspaceRoot)
}
