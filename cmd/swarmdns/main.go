package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/swarmdns/internal/app"
	"github.com/MrSnakeDoc/swarmdns/internal/config"
	"github.com/MrSnakeDoc/swarmdns/internal/version"
)

func main() {
	flags := pflag.NewFlagSet("swarmdns", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", defaultConfigPath(), "path to the YAML configuration file")
	showVersion := flags.BoolP("version", "v", false, "print version information and exit")
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx := context.Background()
	a, err := app.New(ctx, *configPath)
	if err != nil {
		log.Fatalf("❌ swarmdns failed to start: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("❌ swarmdns stopped: %v", err)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SWARMDNS_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}
