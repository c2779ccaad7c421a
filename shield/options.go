package shield

import (
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
)

const VERSION = "0.1.0"

type Options struct {
	SettingsFile string
	Dist         string
	HashesFile   string
	Verbose      bool
}

// ParseOptions reads the command line flags. Flags only override what the
// settings file already provides.
func ParseOptions() *Options {
	options := &Options{}

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription(`sri-shield computes subresource integrity hashes for built HTML, rewrites the markup, and reconciles the derived CSP headers into hosting provider configs.`)
	flagSet.StringVarP(&options.SettingsFile, "settings", "s", defaultSettingsLocation, "settings file location")
	flagSet.StringVarP(&options.Dist, "dist", "d", "", "build output directory to harden (overrides settings)")
	flagSet.StringVar(&options.HashesFile, "hashes", "", "hashes module location (overrides settings)")
	flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "enable verbose logging")

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("Could not parse flags: %s\n", err)
	}
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}
	return options
}
