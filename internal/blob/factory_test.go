package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/blob/s3"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	fsStore, err := Open(ctx, Config{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, fsStore.Driver())

	mem, err := Open(ctx, Config{Driver: core.DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, core.DriverMemory, mem.Driver())

	s3Store, err := Open(ctx, Config{Driver: core.DriverS3, S3: s3.Config{
		Bucket:          "b",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}})
	require.NoError(t, err)
	assert.Equal(t, core.DriverS3, s3Store.Driver())

	_, err = Open(ctx, Config{Driver: core.DriverS3})
	assert.ErrorContains(t, err, "bucket required")

	_, err = Open(ctx, Config{Driver: "tape"})
	assert.ErrorContains(t, err, `unknown blob driver "tape"`)
}
