package image

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gpurig/gpurig/internal/model"
)

func TestBaseSelectionBaseImage(t *testing.T) {
	tests := map[string]struct {
		selection BaseSelection
		toolchain model.Toolchain
		expBase   string
	}{
		"GPU toolchain should build on the CUDA devel image": {
			selection: BaseSelection{CUDAVersion: "12.4", Distro: "ubuntu22.04"},
			toolchain: model.Toolchain{ID: "default", GPU: true},
			expBase:   "nvidia/cuda:12.4-devel-ubuntu22.04",
		},
		"Non GPU toolchain should build on the plain distro image": {
			selection: BaseSelection{CUDAVersion: "12.4", Distro: "ubuntu22.04"},
			toolchain: model.Toolchain{ID: "rust", GPU: false},
			expBase:   "ubuntu:22.04",
		},
		"Missing distro should fall back to the default": {
			selection: BaseSelection{CUDAVersion: "12.4"},
			toolchain: model.Toolchain{ID: "default", GPU: true},
			expBase:   "nvidia/cuda:12.4-devel-ubuntu22.04",
		},
		"Override should win for every toolchain": {
			selection: BaseSelection{CUDAVersion: "12.4", Distro: "ubuntu22.04", Override: "registry.internal/base:v3"},
			toolchain: model.Toolchain{ID: "default", GPU: true},
			expBase:   "registry.internal/base:v3",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expBase, tc.selection.BaseImage(tc.toolchain))
		})
	}
}

func TestRenderDockerfile(t *testing.T) {
	tc := model.Toolchain{
		ID:    "python3",
		Steps: []string{"apt-get update", "pip3 install uv"},
	}

	got := RenderDockerfile(tc, "ubuntu:22.04")

	exp := `FROM ubuntu:22.04
ENV DEBIAN_FRONTEND=noninteractive
RUN apt-get update
RUN pip3 install uv
WORKDIR /workspace
`
	assert.Equal(t, exp, got)
}

func TestDigest(t *testing.T) {
	tcA := model.Toolchain{ID: "a", Steps: []string{"apt-get update"}}
	tcB := model.Toolchain{ID: "b", Steps: []string{"apt-get upgrade"}}

	// Same rendered template gives the same digest regardless of toolchain ID.
	assert.Equal(t,
		Digest(RenderDockerfile(tcA, "ubuntu:22.04")),
		Digest(RenderDockerfile(model.Toolchain{ID: "other", Steps: tcA.Steps}, "ubuntu:22.04")),
	)

	assert.NotEqual(t,
		Digest(RenderDockerfile(tcA, "ubuntu:22.04")),
		Digest(RenderDockerfile(tcB, "ubuntu:22.04")),
	)
	assert.NotEqual(t,
		Digest(RenderDockerfile(tcA, "ubuntu:22.04")),
		Digest(RenderDockerfile(tcA, "ubuntu:24.04")),
	)

	assert.Len(t, Digest("FROM scratch\n"), 64)
}
