package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/arlogue/archivist/internal"
	"github.com/arlogue/archivist/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration and runs the Archivist server until an
// interrupt/terminate signal arrives or a fatal service failure occurs.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath(), "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.DEBUG.Level())
	}

	config := internal.ArchivistConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Archivist stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Archivist stopped\n")
}
