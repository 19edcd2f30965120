package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/caretd/internal/logging"
	"github.com/danmuck/caretd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "optional path to a caretd config TOML")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "caretd: %v\n", err)
		os.Exit(1)
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "caretd: %v\n", err)
		os.Exit(1)
	}
}
