package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpurig/gpurig/internal/model"
)

const (
	defaultWorkers     = 1
	defaultTimeout     = time.Hour
	defaultOutputLimit = 2 << 20 // 2MiB of combined task output.
	defaultCUDAVersion = "12.4"
)

// Config is the daemon configuration, loaded once at startup and on explicit
// re-registration.
type Config struct {
	Machine    MachineConfig
	Registry   RegistryConfig
	Admission  AdmissionConfig
	Execution  ExecutionConfig
	Image      ImageConfig
	Toolchains []model.Toolchain
}

// MachineConfig declares this machine's identity and capability.
type MachineConfig struct {
	Name          string
	Workers       int
	Subscriptions []string
	// GPUs declared explicitly. Empty means probe the PCI bus at startup.
	GPUs []model.GPUDevice
}

// Capability converts the declaration into the domain capability.
func (m MachineConfig) Capability(toolchains []string) model.MachineCapability {
	return model.MachineCapability{
		GPUs:          m.GPUs,
		Workers:       m.Workers,
		Toolchains:    toolchains,
		Subscriptions: m.Subscriptions,
	}
}

// RegistryConfig is how the daemon reaches the task registry.
type RegistryConfig struct {
	URL   string
	KeyID string
	// Secret is the shared HMAC secret, either inline or loaded from
	// SecretFile at startup.
	Secret     string
	SecretFile string
}

// AdmissionConfig tunes the admission scheduler.
type AdmissionConfig struct {
	Policy string
}

// ExecutionConfig tunes task execution.
type ExecutionConfig struct {
	DefaultTimeout   time.Duration
	OutputLimitBytes int64
}

// ImageConfig tunes sandbox image building.
type ImageConfig struct {
	// CUDAVersion selects the CUDA base image line for GPU toolchains.
	CUDAVersion string
	// BaseImage overrides the derived base image entirely when set.
	BaseImage string
}

// YAMLLoader loads the daemon configuration from a YAML file.
type YAMLLoader struct {
	fs fs.FS
}

// NewYAMLLoader creates a new YAML config loader.
func NewYAMLLoader(filesystem fs.FS) *YAMLLoader {
	return &YAMLLoader{fs: filesystem}
}

// Load reads, defaults and validates the configuration at path. When the file
// carries an inline registry secret it must not be readable by group or
// others.
func (l *YAMLLoader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := fs.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var cfg configYAML
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.Registry.Secret != "" {
		info, err := fs.Stat(l.fs, path)
		if err != nil {
			return nil, fmt.Errorf("could not stat config file: %w", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("config file %s holds a registry secret but its permissions are too open (%o): %w", path, info.Mode().Perm(), model.ErrNotValid)
		}
	}

	out, err := cfg.toConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if out.Registry.SecretFile != "" {
		secret, err := l.loadSecretFile(out.Registry.SecretFile)
		if err != nil {
			return nil, err
		}
		out.Registry.Secret = secret
	}

	return out, nil
}

func (l *YAMLLoader) loadSecretFile(path string) (string, error) {
	// The loader FS is rooted, absolute paths become relative to it.
	fsPath := strings.TrimPrefix(path, "/")

	info, err := fs.Stat(l.fs, fsPath)
	if err != nil {
		return "", fmt.Errorf("could not stat registry secret file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("registry secret file %s permissions are too open (%o): %w", path, info.Mode().Perm(), model.ErrNotValid)
	}

	data, err := fs.ReadFile(l.fs, fsPath)
	if err != nil {
		return "", fmt.Errorf("could not read registry secret file: %w", err)
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("registry secret file %s is empty: %w", path, model.ErrNotValid)
	}

	return secret, nil
}

// configYAML is the YAML structure of the daemon configuration file.
type configYAML struct {
	Machine    machineYAML     `yaml:"machine"`
	Registry   registryYAML    `yaml:"registry"`
	Admission  admissionYAML   `yaml:"admission"`
	Execution  executionYAML   `yaml:"execution"`
	Image      imageYAML       `yaml:"image"`
	Toolchains []toolchainYAML `yaml:"toolchains"`
}

type machineYAML struct {
	Name          string    `yaml:"name"`
	Workers       int       `yaml:"workers"`
	Subscriptions []string  `yaml:"subscriptions"`
	GPUs          []gpuYAML `yaml:"gpus"`
}

type gpuYAML struct {
	Index int    `yaml:"index"`
	PCI   string `yaml:"pci"`
	Model string `yaml:"model"`
}

type registryYAML struct {
	URL   string `yaml:"url"`
	KeyID string `yaml:"key_id"`
	// Secret inline requires restrictive file permissions.
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
}

type admissionYAML struct {
	Policy string `yaml:"policy"`
}

type executionYAML struct {
	DefaultTimeout   string `yaml:"default_timeout"`
	OutputLimitBytes int64  `yaml:"output_limit_bytes"`
}

type imageYAML struct {
	CUDAVersion string `yaml:"cuda_version"`
	BaseImage   string `yaml:"base_image"`
}

type toolchainYAML struct {
	ID    string   `yaml:"id"`
	GPU   bool     `yaml:"gpu"`
	Steps []string `yaml:"steps"`
}

func (c configYAML) toConfig() (*Config, error) {
	cfg := &Config{
		Machine: MachineConfig{
			Name:          c.Machine.Name,
			Workers:       c.Machine.Workers,
			Subscriptions: c.Machine.Subscriptions,
		},
		Registry: RegistryConfig{
			URL:        c.Registry.URL,
			KeyID:      c.Registry.KeyID,
			Secret:     c.Registry.Secret,
			SecretFile: c.Registry.SecretFile,
		},
		Admission: AdmissionConfig{Policy: c.Admission.Policy},
		Execution: ExecutionConfig{OutputLimitBytes: c.Execution.OutputLimitBytes},
		Image: ImageConfig{
			CUDAVersion: c.Image.CUDAVersion,
			BaseImage:   c.Image.BaseImage,
		},
	}

	// Defaults.
	if cfg.Machine.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("machine name not set and hostname unavailable: %w", err)
		}
		cfg.Machine.Name = hostname
	}
	if cfg.Machine.Workers == 0 {
		cfg.Machine.Workers = defaultWorkers
	}
	if cfg.Admission.Policy == "" {
		cfg.Admission.Policy = "queue"
	}
	if cfg.Execution.OutputLimitBytes == 0 {
		cfg.Execution.OutputLimitBytes = defaultOutputLimit
	}
	if cfg.Image.CUDAVersion == "" {
		cfg.Image.CUDAVersion = defaultCUDAVersion
	}

	cfg.Execution.DefaultTimeout = defaultTimeout
	if c.Execution.DefaultTimeout != "" {
		timeout, err := time.ParseDuration(c.Execution.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid default_timeout: %w", err)
		}
		cfg.Execution.DefaultTimeout = timeout
	}

	for _, g := range c.Machine.GPUs {
		cfg.Machine.GPUs = append(cfg.Machine.GPUs, model.GPUDevice{
			Index:      g.Index,
			PCIAddress: g.PCI,
			Model:      g.Model,
		})
	}

	for _, tc := range c.Toolchains {
		cfg.Toolchains = append(cfg.Toolchains, model.Toolchain{
			ID:    tc.ID,
			GPU:   tc.GPU,
			Steps: tc.Steps,
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Machine.Workers <= 0 {
		return fmt.Errorf("machine workers must be positive, got: %d", c.Machine.Workers)
	}

	if c.Admission.Policy != "queue" && c.Admission.Policy != "reject" {
		return fmt.Errorf("unknown admission policy %q (want queue or reject)", c.Admission.Policy)
	}

	if c.Execution.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive")
	}
	if c.Execution.OutputLimitBytes <= 0 {
		return fmt.Errorf("output limit must be positive")
	}

	seen := map[int]bool{}
	for _, g := range c.Machine.GPUs {
		if seen[g.Index] {
			return fmt.Errorf("duplicated gpu index %d", g.Index)
		}
		seen[g.Index] = true
	}

	for _, tc := range c.Toolchains {
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("toolchain %q: %w", tc.ID, err)
		}
	}

	if c.Registry.Secret != "" && c.Registry.SecretFile != "" {
		return fmt.Errorf("registry secret and secret_file are mutually exclusive")
	}
	if c.Registry.URL != "" {
		if c.Registry.KeyID == "" {
			return fmt.Errorf("registry configured without key_id")
		}
		if c.Registry.Secret == "" && c.Registry.SecretFile == "" {
			return fmt.Errorf("registry configured without secret or secret_file")
		}
	}

	return nil
}
