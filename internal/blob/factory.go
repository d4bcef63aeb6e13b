// Package blob opens the backup archive sink used before destructive
// compactions.
package blob

import (
	"context"
	"fmt"

	"github.com/roach88/scoreboard/internal/blob/core"
	"github.com/roach88/scoreboard/internal/blob/fs"
	"github.com/roach88/scoreboard/internal/blob/memory"
	"github.com/roach88/scoreboard/internal/blob/s3"
)

// Config selects and configures a driver.
type Config struct {
	Driver core.Driver `yaml:"driver" json:"driver" env:"DRIVER"`
	FSRoot string      `yaml:"fs_root" json:"fs_root" env:"FS_ROOT"`
	S3     s3.Config   `yaml:"s3" json:"s3" envPrefix:"S3_"`
}

// Open returns the store named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (core.Store, error) {
	switch cfg.Driver {
	case "", core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, cfg.S3)
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
