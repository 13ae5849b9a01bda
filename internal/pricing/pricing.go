// Package pricing estimates token counts and request costs for the
// supported LLM providers.
//
// Estimation is deliberately forgiving: unknown providers or models cost
// zero and token counts fall back to cheap heuristics. Accounting must
// never make a chat request fail.
package pricing

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

// ModelPrice holds per-1K-token prices in USD.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider -> model -> price. Provider and model keys are
// lowercase.
type Table map[string]map[string]ModelPrice

// LoadTable parses the embedded price table.
func LoadTable() (Table, error) {
	var t Table
	if err := yaml.Unmarshal(pricesYAML, &t); err != nil {
		return nil, fmt.Errorf("pricing: failed to parse embedded price table: %w", err)
	}
	return t, nil
}

// mustLoadTable backs the package-level estimator. The embedded table is
// part of the build, so a parse failure is a programming error.
func mustLoadTable() Table {
	t, err := LoadTable()
	if err != nil {
		panic(err)
	}
	return t
}

var defaultTable = mustLoadTable()

// SupportedModels returns the models with exact prices for a provider.
func (t Table) SupportedModels(provider string) []string {
	models := make([]string, 0, len(t[strings.ToLower(provider)]))
	for model := range t[strings.ToLower(provider)] {
		models = append(models, model)
	}
	return models
}

// IsSupported reports whether a model has an exact price entry.
func (t Table) IsSupported(provider, model string) bool {
	_, ok := t[strings.ToLower(provider)][model]
	return ok
}

// Lookup finds the price for a model, falling back to fuzzy matching on
// common model-name patterns. The second return is false when no price is
// known.
func (t Table) Lookup(provider, model string) (ModelPrice, bool) {
	provider = strings.ToLower(provider)
	models := t[provider]
	if price, ok := models[model]; ok {
		return price, true
	}

	key := fuzzyModelKey(provider, strings.ToLower(model))
	if key == "" {
		return ModelPrice{}, false
	}
	price, ok := models[key]
	return price, ok
}

// Estimate returns the cost in USD of a request. Unknown providers or
// models cost zero; Estimate never fails.
func (t Table) Estimate(provider, model string, promptTokens, completionTokens int) float64 {
	price, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	return float64(promptTokens)/1000*price.Input + float64(completionTokens)/1000*price.Output
}

// Estimate is the package-level shorthand over the embedded table.
func Estimate(provider, model string, promptTokens, completionTokens int) float64 {
	return defaultTable.Estimate(provider, model, promptTokens, completionTokens)
}

// fuzzyModelKey maps a versioned or aliased model name onto the nearest
// priced entry. Returns "" when nothing plausible matches.
func fuzzyModelKey(provider, model string) string {
	switch provider {
	case "openai":
		switch {
		case strings.Contains(model, "gpt-4.1"):
			switch {
			case strings.Contains(model, "mini"):
				return "gpt-4.1-mini"
			case strings.Contains(model, "nano"):
				return "gpt-4.1-nano"
			default:
				return "gpt-4.1"
			}
		case strings.Contains(model, "o3"):
			if strings.Contains(model, "pro") {
				return "o3-pro"
			}
			return "o3"
		case strings.Contains(model, "gpt-4o"):
			return "gpt-4o"
		case strings.Contains(model, "o4-mini"):
			return "o4-mini-deep-research"
		case strings.Contains(model, "gpt-4"):
			return "gpt-4"
		}
	case "anthropic":
		switch {
		case strings.Contains(model, "claude-4"), strings.Contains(model, "sonnet-4"):
			return "claude-sonnet-4-20250514"
		case strings.Contains(model, "opus-4"):
			return "claude-opus-4-20250514"
		case strings.Contains(model, "claude-3"):
			switch {
			case strings.Contains(model, "opus"):
				return "claude-3-opus-20240229"
			case strings.Contains(model, "sonnet"):
				return "claude-3-sonnet-20240229"
			case strings.Contains(model, "haiku"):
				return "claude-3-haiku-20240307"
			}
		}
	case "gemini":
		switch {
		case strings.Contains(model, "2.5"):
			switch {
			case strings.Contains(model, "pro"):
				return "gemini-2.5-pro"
			case strings.Contains(model, "lite"):
				return "gemini-2.5-flash-lite"
			case strings.Contains(model, "flash"):
				return "gemini-2.5-flash"
			}
		case strings.Contains(model, "2.0"):
			if strings.Contains(model, "lite") {
				return "gemini-2.0-flash-lite"
			}
			return "gemini-2.0-flash"
		case strings.Contains(model, "gemini-pro"):
			return "gemini-pro"
		}
	}
	return ""
}
