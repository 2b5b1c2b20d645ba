package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML price file format:
//
//	prices:
//	  - model: gpt-4o
//	    input_per_million: 2.5
//	    output_per_million: 10
type Seed struct {
	Prices []Price `yaml:"prices"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) ([]Price, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed content.
func ParseSeed(data []byte) ([]Price, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse price seed: %w", err)
	}
	for i, p := range seed.Prices {
		if p.Model == "" {
			return nil, fmt.Errorf("price seed entry %d: model is required", i)
		}
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return nil, fmt.Errorf("price seed entry %d (%s): prices must be non-negative", i, p.Model)
		}
	}
	return seed.Prices, nil
}
