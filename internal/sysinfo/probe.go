package sysinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
)

const (
	defaultNVIDIAVersionPath = "/proc/driver/nvidia/version"
	defaultOSReleasePath     = "/etc/os-release"
)

// ProberConfig is the configuration for the machine prober.
type ProberConfig struct {
	// RunLspci runs `lspci -vmmn` and returns its output. Replaceable for
	// tests and machines without pciutils.
	RunLspci func(ctx context.Context) ([]byte, error)
	// NVIDIAVersionPath is the proc file with the loaded driver version.
	NVIDIAVersionPath string
	// OSReleasePath is the os-release file used for distro detection.
	OSReleasePath string
	Logger        log.Logger
}

func (c *ProberConfig) defaults() error {
	if c.RunLspci == nil {
		c.RunLspci = func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "lspci", "-vmmn").Output()
		}
	}
	if c.NVIDIAVersionPath == "" {
		c.NVIDIAVersionPath = defaultNVIDIAVersionPath
	}
	if c.OSReleasePath == "" {
		c.OSReleasePath = defaultOSReleasePath
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sysinfo.Prober"})
	return nil
}

// Prober discovers what this machine offers: bindable GPUs, the loaded NVIDIA
// driver and the host distro. Probing happens at startup and on explicit
// re-registration, never continuously.
type Prober struct {
	runLspci          func(ctx context.Context) ([]byte, error)
	nvidiaVersionPath string
	osReleasePath     string
	logger            log.Logger
}

// NewProber creates a new machine prober.
func NewProber(cfg ProberConfig) (*Prober, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Prober{
		runLspci:          cfg.RunLspci,
		nvidiaVersionPath: cfg.NVIDIAVersionPath,
		osReleasePath:     cfg.OSReleasePath,
		logger:            cfg.Logger,
	}, nil
}

// GPUs returns the NVIDIA GPUs discovered on the PCI bus.
func (p *Prober) GPUs(ctx context.Context) ([]model.GPUDevice, error) {
	out, err := p.runLspci(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list pci devices: %w", err)
	}

	display := ParsePCIDisplayDevices(out)
	nvidia := FilterNVIDIA(display)

	if skipped := len(display) - len(nvidia); skipped > 0 {
		p.logger.Debugf("Ignoring %d non NVIDIA display devices", skipped)
	}

	return nvidia, nil
}

// DriverVersion returns the loaded NVIDIA driver version, or "" when no
// driver is loaded.
func (p *Prober) DriverVersion() (string, error) {
	contents, err := os.ReadFile(p.nvidiaVersionPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("could not read driver version: %w", err)
	}
	return ParseNVIDIADriverVersion(contents), nil
}

// Distro returns the host distro id and version (e.g. "ubuntu", "22.04").
func (p *Prober) Distro() (id, version string, err error) {
	contents, err := os.ReadFile(p.osReleasePath)
	if err != nil {
		return "", "", fmt.Errorf("could not read os-release: %w", err)
	}
	id, version = ParseOSRelease(contents)
	return id, version, nil
}

// Arch returns the machine architecture in the uname style the registry
// expects (e.g. "x86_64").
func (p *Prober) Arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}

// Snapshot assembles a machine record from the probed facts and the given
// declared capability. Probed GPUs fill in the capability only when the
// configuration does not declare an inventory itself.
func (p *Prober) Snapshot(ctx context.Context, name string, capability model.MachineCapability) (*model.MachineRecord, error) {
	if len(capability.GPUs) == 0 {
		gpus, err := p.GPUs(ctx)
		if err != nil {
			return nil, err
		}
		capability.GPUs = gpus
	}

	driver, err := p.DriverVersion()
	if err != nil {
		return nil, err
	}

	distroID, distroVersion, err := p.Distro()
	if err != nil {
		p.logger.Warningf("Could not detect distro: %s", err)
	}

	record := &model.MachineRecord{
		Name:          name,
		Capability:    capability,
		DriverVersion: driver,
		Distro:        distroID + distroVersion,
		Arch:          p.Arch(),
	}

	return record, nil
}
