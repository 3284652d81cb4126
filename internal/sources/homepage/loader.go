// Package homepage reads a gethomepage services.yaml and turns its entries
// into manual catalog services.
package homepage

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/swarmdns/internal/catalog"
)

var templateVar = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Loader handles loading and parsing of Homepage services.yaml
type Loader struct {
	filePath string
	mapper   *Mapper
}

func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
		mapper:   NewMapper(),
	}
}

// Load reads and parses the services.yaml file
func (l *Loader) Load() (ServicesConfig, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}

	data = stripTemplateVariables(data)

	var config ServicesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse services yaml: %w", err)
	}

	return config, nil
}

// LoadManual is Load followed by MapServices.
func (l *Loader) LoadManual() ([]catalog.Manual, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}
	entries, err := l.mapper.MapServices(config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.filePath, err)
	}
	return entries, nil
}

// stripTemplateVariables removes Homepage template variables from YAML.
// They only carry widget credentials, which the catalog does not use.
// Example: {{HOMEPAGE_VAR_ADGUARD_USER}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAll(data, []byte(`""`))
}
