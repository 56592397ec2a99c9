package image

import (
	"fmt"
	"sort"

	"github.com/gpurig/gpurig/internal/model"
)

// Builtin toolchain IDs.
const (
	ToolchainDefault = "default"
	ToolchainPython3 = "python3"
	ToolchainRust    = "rust"
)

// builtinToolchains are the templates every machine offers out of the box.
// All of them carry git and an ssh client so source checkouts work inside
// the sandbox.
func builtinToolchains() []model.Toolchain {
	return []model.Toolchain{
		{
			ID:  ToolchainDefault,
			GPU: true,
			Steps: []string{
				"apt-get update && apt-get install -y --no-install-recommends ca-certificates curl git openssh-client && rm -rf /var/lib/apt/lists/*",
			},
		},
		{
			ID:  ToolchainPython3,
			GPU: true,
			Steps: []string{
				"apt-get update && apt-get install -y --no-install-recommends ca-certificates curl git openssh-client python3 python3-pip python3-venv && rm -rf /var/lib/apt/lists/*",
			},
		},
		{
			ID:  ToolchainRust,
			GPU: false,
			Steps: []string{
				"apt-get update && apt-get install -y --no-install-recommends ca-certificates curl git openssh-client build-essential && rm -rf /var/lib/apt/lists/*",
				"curl -sSf https://sh.rustup.rs | sh -s -- -y --default-toolchain stable --profile minimal",
				"ln -s /root/.cargo/bin/* /usr/local/bin/",
			},
		},
	}
}

// Catalog holds the toolchains this machine can build images for, builtins
// plus the ones declared in the configuration. A configured toolchain with a
// builtin ID replaces the builtin.
type Catalog struct {
	toolchains map[string]model.Toolchain
}

// NewCatalog creates a catalog from the configured toolchains.
func NewCatalog(custom []model.Toolchain) (*Catalog, error) {
	c := &Catalog{toolchains: map[string]model.Toolchain{}}

	for _, tc := range builtinToolchains() {
		c.toolchains[tc.ID] = tc
	}

	for _, tc := range custom {
		if err := tc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid toolchain: %w", err)
		}
		c.toolchains[tc.ID] = tc
	}

	return c, nil
}

// Get returns the toolchain with the given ID.
func (c *Catalog) Get(id string) (model.Toolchain, error) {
	tc, ok := c.toolchains[id]
	if !ok {
		return model.Toolchain{}, fmt.Errorf("toolchain %q: %w", id, model.ErrNotFound)
	}
	return tc, nil
}

// IDs returns all known toolchain IDs, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.toolchains))
	for id := range c.toolchains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
