package main

import (
	"flag"
	"os"

	"github.com/brightward/brightward/internal/platform/config"
	"github.com/brightward/brightward/internal/tools/vaultkey"
)

func main() {
	cfg, err := vaultkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := vaultkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
