package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/model"
)

const defaultDistro = "ubuntu22.04"

// BaseSelection picks base images for toolchain templates.
type BaseSelection struct {
	// CUDAVersion selects the CUDA line for GPU toolchains (e.g. "12.4").
	CUDAVersion string
	// Distro is the host distro in CUDA tag form (e.g. "ubuntu22.04").
	Distro string
	// Override forces a single base image for every toolchain.
	Override string
}

// BaseImage returns the base image a toolchain builds on. GPU toolchains get
// the CUDA devel image matching the host distro so the userland libraries
// line up with the host driver.
func (s BaseSelection) BaseImage(tc model.Toolchain) string {
	if s.Override != "" {
		return s.Override
	}

	distro := s.Distro
	if distro == "" {
		distro = defaultDistro
	}

	if tc.GPU {
		return fmt.Sprintf("nvidia/cuda:%s-devel-%s", s.CUDAVersion, distro)
	}
	return plainImage(distro)
}

// plainImage converts a CUDA tag distro ("ubuntu22.04") into a plain image
// reference ("ubuntu:22.04").
func plainImage(distro string) string {
	for i, r := range distro {
		if r >= '0' && r <= '9' {
			return distro[:i] + ":" + distro[i:]
		}
	}
	return distro
}

// RenderDockerfile produces the Dockerfile for a toolchain on top of a base
// image. The output is deterministic, its hash keys the image cache.
func RenderDockerfile(tc model.Toolchain, base string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	b.WriteString("ENV DEBIAN_FRONTEND=noninteractive\n")
	for _, step := range tc.Steps {
		fmt.Fprintf(&b, "RUN %s\n", step)
	}
	fmt.Fprintf(&b, "WORKDIR %s\n", conventions.SandboxWorkspaceDir)
	return b.String()
}

// Digest returns the cache key for a rendered Dockerfile.
func Digest(dockerfile string) string {
	sum := sha256.Sum256([]byte(dockerfile))
	return hex.EncodeToString(sum[:])
}
