package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/model"
)

func TestCatalog(t *testing.T) {
	tests := map[string]struct {
		custom    []model.Toolchain
		get       string
		expSteps  int
		expGPU    bool
		expErr    bool
		expNewErr bool
	}{
		"Builtin default toolchain should be available": {
			get:      ToolchainDefault,
			expSteps: 1,
			expGPU:   true,
		},

		"Builtin rust toolchain should not request the CUDA base": {
			get:      ToolchainRust,
			expSteps: 3,
			expGPU:   false,
		},

		"Custom toolchain should be available": {
			custom: []model.Toolchain{
				{ID: "pytorch", GPU: true, Steps: []string{"pip3 install torch"}},
			},
			get:      "pytorch",
			expSteps: 1,
			expGPU:   true,
		},

		"Custom toolchain should replace a builtin with the same ID": {
			custom: []model.Toolchain{
				{ID: ToolchainPython3, GPU: false, Steps: []string{"apk add python3"}},
			},
			get:      ToolchainPython3,
			expSteps: 1,
			expGPU:   false,
		},

		"Unknown toolchain should return not found": {
			get:    "fortran77",
			expErr: true,
		},

		"Invalid custom toolchain should fail catalog creation": {
			custom: []model.Toolchain{
				{ID: "broken"},
			},
			expNewErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			catalog, err := NewCatalog(tc.custom)
			if tc.expNewErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := catalog.Get(tc.get)
			if tc.expErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrNotFound)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.get, got.ID)
			assert.Equal(t, tc.expGPU, got.GPU)
			assert.Len(t, got.Steps, tc.expSteps)
		})
	}
}

func TestCatalogIDs(t *testing.T) {
	catalog, err := NewCatalog([]model.Toolchain{
		{ID: "zz-custom", Steps: []string{"true"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"default", "python3", "rust", "zz-custom"}, catalog.IDs())
}
