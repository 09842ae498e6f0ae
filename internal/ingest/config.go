package ingest

import "time"

// Config controls the replica ingestion service.
type Config struct {
	// Controls the number of workers performing the CPU-bound half of
	// replica processing (decode + resize). Reducing to 1 means one
	// replica is processed at a time; raising it too high lets large
	// images starve the host of CPU.
	ProcessingParallelism int `yaml:"processing_parallelism" env:"INGEST_PROCESSING_PARALLELISM" env-default:"2"`

	// The path to a directory the service should monitor for new files
	// to automatically ingest. Leave empty to disable the watcher.
	ImportPath string `yaml:"import_path" env:"INGEST_IMPORT_PATH"`

	// The import directory watcher is backed by OS file system events,
	// but a 'force' sync is performed on a regular interval to protect
	// against the watcher failing.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"INGEST_FORCE_SYNC_SECONDS" env-default:"30"`

	// When a new file is detected in the import directory it's likely
	// to be an in-progress copy. We wait for the file's modtime to be
	// at least this long in the past before ingesting it.
	RequiredModTimeAgeSeconds int `yaml:"modtime_threshold_seconds" env:"INGEST_MODTIME_THRESHOLD_SECONDS" env-default:"10"`
}

func (config *Config) RequiredModTimeAgeDuration() time.Duration {
	return time.Duration(config.RequiredModTimeAgeSeconds) * time.Second
}
