package registry

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/marketgate/marketgate/internal/core"
)

// fileFormat is the layout of a standalone vendors file.
type fileFormat struct {
	Vendors []core.VendorConfig `yaml:"vendors"`
}

// LoadFile reads vendor definitions from a YAML file with a top-level vendors list.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vendors file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML vendor definitions and builds a registry.
func Parse(data []byte) (*Registry, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vendors file: %w", err)
	}
	return New(doc.Vendors...)
}

// FromMap decodes vendor definitions from a config section. raw is either a list of
// vendor maps or a map keyed by vendor name.
func FromMap(raw any) (*Registry, error) {
	configs, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return New(configs...)
}

// Decode converts a loosely typed config section into vendor configs.
func Decode(raw any) ([]core.VendorConfig, error) {
	if raw == nil {
		return nil, nil
	}

	if byName, ok := raw.(map[string]any); ok {
		var configs []core.VendorConfig
		for name, value := range byName {
			var cfg core.VendorConfig
			if err := decode(value, &cfg); err != nil {
				return nil, fmt.Errorf("decode vendor %s: %w", name, err)
			}
			if cfg.Name == "" {
				cfg.Name = name
			}
			configs = append(configs, cfg)
		}
		return configs, nil
	}

	var configs []core.VendorConfig
	if err := decode(raw, &configs); err != nil {
		return nil, fmt.Errorf("decode vendors: %w", err)
	}
	return configs, nil
}

func decode(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
