package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/sinkcam/internal/convert"
)

// LoadDepthParams reads the [depth] table. Missing keys keep the default
// 10mm to 15m range.
func LoadDepthParams(path string) (convert.DepthParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return convert.DepthParams{}, err
	}

	doc := struct {
		Depth convert.DepthParams `toml:"depth"`
	}{Depth: convert.DefaultDepthParams()}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return convert.DepthParams{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := doc.Depth.Validate(); err != nil {
		return convert.DepthParams{}, err
	}
	return doc.Depth, nil
}
