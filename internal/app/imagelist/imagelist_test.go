package imagelist_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/app/imagelist"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage/storagemock"
)

func TestServiceRun(t *testing.T) {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

	images := []model.ImageRecord{
		{Digest: "aaa111", Toolchain: "python3", Tag: "gpurig/aaa111", CreatedAt: createdAt, LastUsedAt: createdAt},
		{Digest: "bbb222", Toolchain: "rust", Tag: "gpurig/bbb222", CreatedAt: createdAt, LastUsedAt: createdAt},
	}

	tests := map[string]struct {
		mock      func(m *storagemock.MockImageRepository)
		expResult []model.ImageRecord
		expErr    bool
	}{
		"Listing cached images should return them.": {
			mock: func(m *storagemock.MockImageRepository) {
				m.On("ListImages", mock.Anything).Once().Return(images, nil)
			},
			expResult: images,
		},
		"An empty cache should return an empty list.": {
			mock: func(m *storagemock.MockImageRepository) {
				m.On("ListImages", mock.Anything).Once().Return([]model.ImageRecord{}, nil)
			},
			expResult: []model.ImageRecord{},
		},
		"A repository error should propagate.": {
			mock: func(m *storagemock.MockImageRepository) {
				m.On("ListImages", mock.Anything).Once().Return(nil, fmt.Errorf("database error"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockImageRepository{}
			test.mock(m)

			svc, err := imagelist.NewService(imagelist.ServiceConfig{Repository: m})
			require.NoError(err)

			result, err := svc.Run(context.Background())

			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
				assert.Equal(test.expResult, result)
			}

			m.AssertExpectations(t)
		})
	}
}

func TestNewService(t *testing.T) {
	_, err := imagelist.NewService(imagelist.ServiceConfig{})
	require.Error(t, err)
}
