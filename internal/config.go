package internal

import (
	"fmt"
	"path/filepath"

	"github.com/arlogue/archivist/internal/api"
	"github.com/arlogue/archivist/internal/database"
	"github.com/arlogue/archivist/internal/ingest"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const archivistDirSuffix = "archivist"

type (
	// StoreConfig configures the filesystem object store and the
	// thumbnails generated in to it.
	StoreConfig struct {
		DataPath        string `yaml:"data_path" env:"STORE_DATA_PATH"`
		ThumbnailWidth  int    `yaml:"thumbnail_width" env:"STORE_THUMB_WIDTH" env-default:"320"`
		ThumbnailHeight int    `yaml:"thumbnail_height" env:"STORE_THUMB_HEIGHT" env-default:"320"`
	}

	// ArchivistConfig is the user supplied configuration, sourced from a
	// YAML file with environment variable overrides.
	ArchivistConfig struct {
		Store    StoreConfig             `yaml:"store"`
		Ingest   ingest.Config           `yaml:"ingest"`
		Rest     api.RestConfig          `yaml:"api"`
		Database database.DatabaseConfig `yaml:"database" env-required:"true"`
	}
)

// LoadFromFile reads the YAML configuration at the given path in to the
// config, applying any environment variable overrides on top.
func (config *ArchivistConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %w", configPath, err)
	}

	return nil
}

// ObjectStorePath returns the root directory for stored objects: the
// configured path when set, otherwise a default inside the users home dir.
func (config *ArchivistConfig) ObjectStorePath() (string, error) {
	if config.Store.DataPath != "" {
		return config.Store.DataPath, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to derive user home dir for object store: %w", err)
	}

	return filepath.Join(home, archivistDirSuffix, "objects"), nil
}

// DefaultConfigPath is where the configuration is looked for when no path is
// supplied on the command line.
func DefaultConfigPath() string {
	path, err := homedir.Expand(filepath.Join("~", archivistDirSuffix, "config.yaml"))
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}

	return path
}
