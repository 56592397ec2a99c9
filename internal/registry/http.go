package registry

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
)

const (
	// HeaderKeyID carries the API key id of the signing machine.
	HeaderKeyID = "X-Gpurig-Key-Id"
	// HeaderSignature carries the hex HMAC-SHA256 of the request body.
	HeaderSignature = "X-Gpurig-Signature"

	registerPath = "/api/v1/machines"
	nextTaskPath = "/api/v1/tasks/next"
	reportPath   = "/api/v1/reports"

	defaultRequestTimeout = 30 * time.Second
)

// Sign returns the hex HMAC-SHA256 of payload under secret. Both sides of the
// protocol compute it over the raw request body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClientConfig is the configuration of HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the registry root (e.g. "https://registry.example.com").
	BaseURL string
	// KeyID identifies the machine's API key.
	KeyID string
	// Secret is the shared HMAC secret for KeyID.
	Secret string
	// MachineName is the registered machine name polls are made for.
	MachineName string
	// HTTPClient is the HTTP client for registry requests.
	HTTPClient *http.Client
	Logger     log.Logger
}

func (c *HTTPClientConfig) defaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.KeyID == "" {
		return fmt.Errorf("key id is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("secret is required")
	}
	if c.MachineName == "" {
		return fmt.Errorf("machine name is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.HTTPClient"})

	return nil
}

// HTTPClient implements Client over HTTP+JSON with signed requests.
type HTTPClient struct {
	baseURL     string
	keyID       string
	secret      string
	machineName string
	httpClient  *http.Client
	logger      log.Logger
}

// NewHTTPClient creates a new HTTP registry client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &HTTPClient{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		keyID:       cfg.KeyID,
		secret:      cfg.Secret,
		machineName: cfg.MachineName,
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
	}, nil
}

func (c *HTTPClient) Register(ctx context.Context, machine model.MachineRecord) error {
	if err := machine.Validate(); err != nil {
		return err
	}

	status, body, err := c.post(ctx, registerPath, machineToJSON(machine))
	if err != nil {
		return err
	}
	if err := checkStatus(status, body); err != nil {
		return fmt.Errorf("registering machine: %w", err)
	}

	c.logger.Infof("Machine %q registered", machine.Name)

	return nil
}

func (c *HTTPClient) NextTask(ctx context.Context) (*model.Task, error) {
	status, body, err := c.post(ctx, nextTaskPath, pollJSON{Machine: c.machineName})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(status, body); err != nil {
		return nil, fmt.Errorf("polling for tasks: %w", err)
	}
	if status == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}

	var tj taskJSON
	if err := json.Unmarshal(body, &tj); err != nil {
		return nil, fmt.Errorf("parsing task: %w", err)
	}
	if tj.ID == "" {
		return nil, fmt.Errorf("registry sent a task without an id: %w", model.ErrNotValid)
	}

	task := tj.toModel()
	return &task, nil
}

func (c *HTTPClient) Report(ctx context.Context, report model.TaskReport) error {
	status, body, err := c.post(ctx, reportPath, reportToJSON(report))
	if err != nil {
		return err
	}
	if err := checkStatus(status, body); err != nil {
		return fmt.Errorf("reporting run %s: %w", report.RunID, err)
	}

	return nil
}

// post sends a signed JSON request and returns the raw answer. Transport
// failures come back wrapped in model.ErrUnavailable, status handling is the
// caller's.
func (c *HTTPClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKeyID, c.keyID)
	req.Header.Set(HeaderSignature, Sign(c.secret, data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: executing request: %v", model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response: %v", model.ErrUnavailable, err)
	}

	return resp.StatusCode, body, nil
}

// checkStatus maps an HTTP status to the protocol's error classes: 5xx and
// throttling are retryable, the rest of the 4xx family is permanent.
func checkStatus(status int, body []byte) error {
	switch {
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: registry returned HTTP %d", model.ErrUnavailable, status)
	case status >= http.StatusBadRequest:
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = http.StatusText(status)
		}
		return fmt.Errorf("registry rejected the request: HTTP %d: %s", status, detail)
	}

	return nil
}

// --- JSON wire types ---

type pollJSON struct {
	Machine string `json:"machine"`
}

type machineJSON struct {
	Name          string    `json:"name"`
	Workers       int       `json:"workers"`
	GPUs          []gpuJSON `json:"gpus,omitempty"`
	Toolchains    []string  `json:"toolchains,omitempty"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
	DriverVersion string    `json:"driver_version,omitempty"`
	CUDAVersion   string    `json:"cuda_version,omitempty"`
	Distro        string    `json:"distro,omitempty"`
	Arch          string    `json:"arch,omitempty"`
}

type gpuJSON struct {
	Index      int    `json:"index"`
	PCIAddress string `json:"pci_address,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	Model      string `json:"model,omitempty"`
}

func machineToJSON(m model.MachineRecord) machineJSON {
	gpus := make([]gpuJSON, 0, len(m.Capability.GPUs))
	for _, g := range m.Capability.GPUs {
		gpus = append(gpus, gpuJSON{
			Index:      g.Index,
			PCIAddress: g.PCIAddress,
			Vendor:     g.Vendor,
			Model:      g.Model,
		})
	}

	return machineJSON{
		Name:          m.Name,
		Workers:       m.Capability.Workers,
		GPUs:          gpus,
		Toolchains:    m.Capability.Toolchains,
		Subscriptions: m.Capability.Subscriptions,
		DriverVersion: m.DriverVersion,
		CUDAVersion:   m.CUDAVersion,
		Distro:        m.Distro,
		Arch:          m.Arch,
	}
}

type taskJSON struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Toolchain      string            `json:"toolchain"`
	GPUs           int               `json:"gpus"`
	Commands       []string          `json:"commands"`
	Env            map[string]string `json:"env,omitempty"`
	AllowErrors    bool              `json:"allow_errors,omitempty"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	Source         *sourceJSON       `json:"source,omitempty"`
	CredentialRef  string            `json:"credential_ref,omitempty"`
}

type sourceJSON struct {
	RepoURL string `json:"repo_url"`
	Ref     string `json:"ref,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

func (t taskJSON) toModel() model.Task {
	task := model.Task{
		ID:            t.ID,
		Name:          t.Name,
		Toolchain:     t.Toolchain,
		Requirement:   model.CapabilityRequirement{GPUs: t.GPUs},
		Commands:      t.Commands,
		Env:           t.Env,
		AllowErrors:   t.AllowErrors,
		Timeout:       time.Duration(t.TimeoutSeconds) * time.Second,
		CredentialRef: t.CredentialRef,
	}
	if t.Source != nil {
		task.Source = &model.SourceRef{
			RepoURL: t.Source.RepoURL,
			Ref:     t.Source.Ref,
			Commit:  t.Source.Commit,
		}
	}

	return task
}

type reportJSON struct {
	TaskID          string `json:"task_id"`
	RunID           string `json:"run_id"`
	Outcome         string `json:"outcome"`
	ExitCode        int    `json:"exit_code"`
	Output          []byte `json:"output,omitempty"`
	OutputTruncated bool   `json:"output_truncated,omitempty"`
	Error           string `json:"error,omitempty"`
	Attempts        int    `json:"attempts"`
	DurationMS      int64  `json:"duration_ms"`
	FinishedAt      string `json:"finished_at"`
}

func reportToJSON(r model.TaskReport) reportJSON {
	return reportJSON{
		TaskID:          r.TaskID,
		RunID:           r.RunID,
		Outcome:         string(r.Outcome),
		ExitCode:        r.ExitCode,
		Output:          r.Output,
		OutputTruncated: r.OutputTruncated,
		Error:           r.Error,
		Attempts:        r.Attempts,
		DurationMS:      r.Duration.Milliseconds(),
		FinishedAt:      r.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
}
