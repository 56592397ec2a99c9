package doctor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/app/doctor"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox/sandboxmock"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

const nvidiaLspci = `Slot:	01:00.0
Class:	0300
Vendor:	10de
Device:	2684

Slot:	02:00.0
Class:	0200
Vendor:	8086
Device:	1521
`

const nvidiaVersion = "NVRM version: NVIDIA UNIX x86_64 Kernel Module  550.54.14  Thu Feb 22 01:44:30 UTC 2024\n"

func healthyEngineResults() []model.CheckResult {
	return []model.CheckResult{
		{ID: "docker_daemon", Status: model.CheckStatusOK, Message: "Docker daemon reachable"},
		{ID: "nvidia_runtime", Status: model.CheckStatusOK, Message: "NVIDIA container runtime installed"},
	}
}

func testProber(t *testing.T, lspci string, lspciErr error, driverContents string) *sysinfo.Prober {
	dir := t.TempDir()

	versionPath := filepath.Join(dir, "version")
	if driverContents != "" {
		require.NoError(t, os.WriteFile(versionPath, []byte(driverContents), 0o644))
	}

	osReleasePath := filepath.Join(dir, "os-release")
	require.NoError(t, os.WriteFile(osReleasePath, []byte("ID=ubuntu\nVERSION_ID=\"22.04\"\n"), 0o644))

	p, err := sysinfo.NewProber(sysinfo.ProberConfig{
		RunLspci: func(ctx context.Context) ([]byte, error) {
			return []byte(lspci), lspciErr
		},
		NVIDIAVersionPath: versionPath,
		OSReleasePath:     osReleasePath,
	})
	require.NoError(t, err)

	return p
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		engineResults []model.CheckResult
		lspci         string
		lspciErr      error
		driver        string
		breakDataDir  bool
		expStatuses   map[string]model.CheckStatus
		expErrors     bool
		expWarnings   bool
	}{
		"A healthy machine should pass every check.": {
			engineResults: healthyEngineResults(),
			lspci:         nvidiaLspci,
			driver:        nvidiaVersion,
			expStatuses: map[string]model.CheckStatus{
				"docker_daemon":  model.CheckStatusOK,
				"nvidia_runtime": model.CheckStatusOK,
				"gpu_devices":    model.CheckStatusOK,
				"nvidia_driver":  model.CheckStatusOK,
				"data_dir":       model.CheckStatusOK,
			},
		},
		"A machine without GPUs or driver should warn but not fail.": {
			engineResults: healthyEngineResults(),
			lspci:         "Slot:\t02:00.0\nClass:\t0200\nVendor:\t8086\n",
			expStatuses: map[string]model.CheckStatus{
				"gpu_devices":   model.CheckStatusWarning,
				"nvidia_driver": model.CheckStatusWarning,
				"data_dir":      model.CheckStatusOK,
			},
			expWarnings: true,
		},
		"A failing PCI probe should warn.": {
			engineResults: healthyEngineResults(),
			lspciErr:      fmt.Errorf("lspci not found"),
			driver:        nvidiaVersion,
			expStatuses: map[string]model.CheckStatus{
				"gpu_devices": model.CheckStatusWarning,
			},
			expWarnings: true,
		},
		"An unreachable engine should surface its errors.": {
			engineResults: []model.CheckResult{
				{ID: "docker_daemon", Status: model.CheckStatusError, Message: "Docker daemon not reachable"},
			},
			lspci:  nvidiaLspci,
			driver: nvidiaVersion,
			expStatuses: map[string]model.CheckStatus{
				"docker_daemon": model.CheckStatusError,
			},
			expErrors: true,
		},
		"An unwritable data dir should fail the check.": {
			engineResults: healthyEngineResults(),
			lspci:         nvidiaLspci,
			driver:        nvidiaVersion,
			breakDataDir:  true,
			expStatuses: map[string]model.CheckStatus{
				"data_dir": model.CheckStatusError,
			},
			expErrors: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			engine := &sandboxmock.MockEngine{}
			engine.On("Check", mock.Anything).Once().Return(test.engineResults)

			dataDir := filepath.Join(t.TempDir(), "data")
			if test.breakDataDir {
				// A plain file where the dir should go.
				require.NoError(os.WriteFile(dataDir, nil, 0o644))
			}

			svc, err := doctor.NewService(doctor.ServiceConfig{
				Engine:  engine,
				Prober:  testProber(t, test.lspci, test.lspciErr, test.driver),
				DataDir: dataDir,
			})
			require.NoError(err)

			results := svc.Run(context.Background())

			byID := map[string]model.CheckStatus{}
			for _, r := range results {
				byID[r.ID] = r.Status
			}
			for id, status := range test.expStatuses {
				assert.Equal(status, byID[id], "check %s", id)
			}

			assert.Equal(test.expErrors, model.HasErrors(results))
			assert.Equal(test.expWarnings, model.HasWarnings(results))

			engine.AssertExpectations(t)
		})
	}
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config func(t *testing.T) doctor.ServiceConfig
		expErr bool
	}{
		"A valid config should create the service.": {
			config: func(t *testing.T) doctor.ServiceConfig {
				return doctor.ServiceConfig{
					Engine:  &sandboxmock.MockEngine{},
					Prober:  testProber(t, "", nil, ""),
					DataDir: t.TempDir(),
				}
			},
		},
		"A missing engine should fail.": {
			config: func(t *testing.T) doctor.ServiceConfig {
				return doctor.ServiceConfig{
					Prober:  testProber(t, "", nil, ""),
					DataDir: t.TempDir(),
				}
			},
			expErr: true,
		},
		"A missing prober should fail.": {
			config: func(t *testing.T) doctor.ServiceConfig {
				return doctor.ServiceConfig{
					Engine:  &sandboxmock.MockEngine{},
					DataDir: t.TempDir(),
				}
			},
			expErr: true,
		},
		"A missing data dir should fail.": {
			config: func(t *testing.T) doctor.ServiceConfig {
				return doctor.ServiceConfig{
					Engine: &sandboxmock.MockEngine{},
					Prober: testProber(t, "", nil, ""),
				}
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := doctor.NewService(test.config(t))

			if test.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
