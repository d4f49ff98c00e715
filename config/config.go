// Package config defines the provider/endpoint/mode records that describe
// heterogeneous image APIs, and the registry used to pick endpoints for a
// model. Loading, persisting, and watching the configuration file belong
// to the host; this package only parses bytes into records.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dialect selects the request/response shape family of an endpoint.
type Dialect string

const (
	DialectOpenAI Dialect = "openai"
	DialectGemini Dialect = "gemini"
)

// AuthMode selects how requests are authenticated.
type AuthMode string

const (
	// AuthAPI sends the provider's static API key as a bearer token.
	AuthAPI AuthMode = "api"
	// AuthAccount fetches headers from the credential provider at call time.
	AuthAccount AuthMode = "account"
)

// Completion distinguishes synchronous endpoints from polled async tasks.
type Completion string

const (
	CompletionSync  Completion = "sync"
	CompletionAsync Completion = "async"
)

// Mode names used throughout the pipeline.
const (
	ModeText2Img = "text2img"
	ModeImg2Img  = "img2img"
)

// FallbackMode returns the other generation mode; an endpoint lacking the
// requested mode is served through this one.
func FallbackMode(mode string) string {
	if mode == ModeText2Img {
		return ModeImg2Img
	}
	return ModeText2Img
}

// Multipart file-naming conventions.
const (
	FileFormatSameName = "same_name" // image, image
	FileFormatIndexed  = "indexed"   // image[0], image[1]
	FileFormatArray    = "array"     // image[], image[]
	FileFormatNumbered = "numbered"  // image1, image2
)

// ProviderConfig holds the connection settings of one upstream provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// RateLimit is the request budget in requests per second. 0 disables
	// client-side limiting.
	RateLimit float64 `yaml:"rate_limit"`
	// Provider-level multipart defaults, overridable per endpoint and mode.
	FileFormat string `yaml:"file_format"`
	FileField  string `yaml:"file_field"`
}

// PollingConfig describes how to poll an async task endpoint.
type PollingConfig struct {
	// EndpointTemplate is a path with a {task_id} placeholder.
	EndpointTemplate string `yaml:"endpoint_template"`
	// StatusPath is a path expression locating the status string.
	StatusPath string `yaml:"status_path"`
	// SuccessValues / FailureValues are compared case-insensitively.
	SuccessValues []string `yaml:"success_values"`
	FailureValues []string `yaml:"failure_values"`
}

// DefaultPolling returns the polling spec used when a mode declares async
// completion without its own polling section.
func DefaultPolling() *PollingConfig {
	return &PollingConfig{
		EndpointTemplate: "/v1/tasks/{task_id}",
		StatusPath:       "status",
		SuccessValues:    []string{"SUCCESS"},
		FailureValues:    []string{"FAILURE", "FAILED", "ERROR"},
	}
}

// ModeConfig describes one generation operation of an endpoint.
type ModeConfig struct {
	Path        string `yaml:"endpoint"`
	Method      string `yaml:"method"`
	ContentType string `yaml:"content_type"`
	// PayloadTemplate is rendered against the request parameters; see the
	// template package for the substitution rules.
	PayloadTemplate map[string]any            `yaml:"payload_template"`
	ValueMappings   map[string]map[string]any `yaml:"value_mappings"`
	Completion      Completion                `yaml:"response_type"`
	// ResponsePath extracts images from sync (or completed async) payloads.
	ResponsePath string `yaml:"response_path"`
	// TaskIDPath extracts the task id from async submission payloads.
	TaskIDPath string `yaml:"task_id_path"`
	// GenerationConfig seeds the Gemini generationConfig object.
	GenerationConfig map[string]any `yaml:"generation_config"`
	Polling          *PollingConfig `yaml:"polling"`
	FileFormat       string         `yaml:"file_format"`
	FileField        string         `yaml:"file_field"`
}

// EndpointConfig is one way to reach a model through a provider.
type EndpointConfig struct {
	Provider    string `yaml:"provider"`
	DisplayName string `yaml:"display_name"`
	// Priority orders candidates ascending; lower wins.
	Priority     int                    `yaml:"priority"`
	Dialect      Dialect                `yaml:"api_format"`
	Auth         AuthMode               `yaml:"auth"`
	ModelName    string                 `yaml:"model_name"`
	PromptPrefix string                 `yaml:"prompt_prefix"`
	ExtraParams  map[string]any         `yaml:"extra_params"`
	Modes        map[string]*ModeConfig `yaml:"modes"`
	FileFormat   string                 `yaml:"file_format"`
	FileField    string                 `yaml:"file_field"`
}

// Name returns the endpoint's display name, falling back to the provider.
func (e *EndpointConfig) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Provider
}

// ModelConfig groups the endpoints able to serve one model.
type ModelConfig struct {
	Name      string            `yaml:"name"`
	Endpoints []*EndpointConfig `yaml:"api_endpoints"`
}

// File is the parsed shape of the host's configuration document.
type File struct {
	Providers []*ProviderConfig `yaml:"providers"`
	Models    []*ModelConfig    `yaml:"models"`
}

// Parse unmarshals a configuration document and builds a registry.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return NewRegistry(f.Providers, f.Models), nil
}
