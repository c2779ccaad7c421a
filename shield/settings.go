package shield

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/secinto/go-sri-shield/sri"
	"github.com/secinto/go-sri-shield/vercel"
)

const defaultSettingsLocation = "sri-shield.yml"

// Settings is the yaml configuration for a build-time run.
type Settings struct {
	DistDir            string            `yaml:"dist_dir,omitempty"`
	HashesFile         string            `yaml:"hashes_file,omitempty"`
	InlineScripts      string            `yaml:"inline_scripts,omitempty"`
	InlineStyles       string            `yaml:"inline_styles,omitempty"`
	ScriptsAllowList   []string          `yaml:"scripts_allow_list,omitempty"`
	StylesAllowList    []string          `yaml:"styles_allow_list,omitempty"`
	Directives         map[string]string `yaml:"directives,omitempty"`
	NetlifyHeadersFile string            `yaml:"netlify_headers_file,omitempty"`
	VercelConfigFile   string            `yaml:"vercel_config_file,omitempty"`
	TrailingSlash      string            `yaml:"trailing_slash,omitempty"`
	EnableMiddleware   bool              `yaml:"enable_middleware,omitempty"`
	DevPathPrefixes    []string          `yaml:"dev_path_prefixes,omitempty"`
	DevQueryMarkers    []string          `yaml:"dev_query_markers,omitempty"`
}

func loadSettingsFrom(location string) (Settings, error) {
	var settings Settings

	yamlFile, err := os.ReadFile(location)
	if err != nil {
		if location != defaultSettingsLocation {
			return settings, errors.Wrapf(err, "reading settings file %s", location)
		}
		// no settings file at the default location: flags and defaults apply
		return settings, nil
	}
	if err := yaml.Unmarshal(yamlFile, &settings); err != nil {
		return settings, errors.Wrapf(err, "parsing settings file %s", location)
	}
	return settings, nil
}

func (s *Settings) applyDefaults() {
	if s.HashesFile == "" {
		s.HashesFile = "sri-hashes.json"
	}
	if s.InlineScripts == "" {
		s.InlineScripts = string(sri.InlineAll)
	}
	if s.InlineStyles == "" {
		s.InlineStyles = string(sri.InlineAll)
	}
	if s.TrailingSlash == "" {
		s.TrailingSlash = string(vercel.TrailingMixed)
	}
}

func validInlinePolicy(value string) bool {
	switch sri.InlinePolicy(value) {
	case sri.InlineAll, sri.InlineStaticOnly, sri.InlineDisabled:
		return true
	}
	return false
}
