package main

import (
	"context"

	"github.com/projectdiscovery/gologger"
	"github.com/secinto/go-sri-shield/shield"
)

func main() {
	// Parse the command line flags and read config files
	options := shield.ParseOptions()

	s, err := shield.New(options)
	if err != nil {
		gologger.Fatal().Msgf("Could not create sri-shield: %s\n", err)
	}

	if err := s.Harden(context.Background()); err != nil {
		gologger.Fatal().Msgf("Could not harden build output: %s\n", err)
	}
}
