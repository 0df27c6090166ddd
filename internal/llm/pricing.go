package llm

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var pricingYAML []byte

// ModelPrice is the USD cost per one million tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type pricingTable struct {
	Models map[string]ModelPrice `yaml:"models"`
}

var (
	pricingOnce sync.Once
	pricing     pricingTable
	pricingErr  error
)

func loadPricing() (pricingTable, error) {
	pricingOnce.Do(func() {
		pricing, pricingErr = parsePricing(pricingYAML)
	})
	return pricing, pricingErr
}

func parsePricing(raw []byte) (pricingTable, error) {
	var table pricingTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return pricingTable{}, fmt.Errorf("parse pricing table: %w", err)
	}
	for model, price := range table.Models {
		if price.Input < 0 || price.Output < 0 {
			return pricingTable{}, fmt.Errorf("pricing for %s must not be negative", model)
		}
	}
	return table, nil
}

// EstimateCostUSD prices usage for model. Versioned model names such as
// "claude-sonnet-4-5-20250929" fall back to the longest matching table prefix.
// Unknown models and nil usage cost nothing.
func EstimateCostUSD(model string, usage *TokenUsage) (float64, bool) {
	if usage == nil {
		return 0, false
	}
	table, err := loadPricing()
	if err != nil {
		return 0, false
	}
	price, ok := lookupPrice(table, model)
	if !ok {
		return 0, false
	}
	cost := float64(usage.InputTokens)*price.Input/1e6 + float64(usage.OutputTokens)*price.Output/1e6
	return cost, true
}

func lookupPrice(table pricingTable, model string) (ModelPrice, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if price, ok := table.Models[model]; ok {
		return price, true
	}
	best := ""
	for name := range table.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return table.Models[best], true
}
