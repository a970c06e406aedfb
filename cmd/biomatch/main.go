package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/he/lattice"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	log.Printf("biomatch-go version: %s", biomatch.Version)

	cfg := biomatch.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = biomatch.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	eng, err := lattice.New(lattice.Params{
		LogN:                cfg.LogN,
		MultiplicativeDepth: cfg.MultiplicativeDepth,
	})
	if err != nil {
		log.Fatalf("initialize encryption engine: %v", err)
	}

	fmt.Printf("engine: %s\n", eng.Name())
	fmt.Printf("slots per ciphertext: %d\n", eng.Slots())
	fmt.Printf("embedding dimension: %d\n", biomatch.EmbeddingDim)
	fmt.Printf("auth threshold: %g\n", cfg.AuthThreshold)
	fmt.Printf("key rotation period: %s\n", cfg.RotationPeriod())
	fmt.Printf("superseded-key retention: %s\n", cfg.Retention())
}
