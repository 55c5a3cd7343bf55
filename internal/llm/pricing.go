package llm

// Price is the USD cost per 1000 tokens.
type Price struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Pricing maps model names to prices. Unknown models cost nothing.
type Pricing map[string]Price

// DefaultPricing lists Perplexity's Sonar models.
func DefaultPricing() Pricing {
	return Pricing{
		"sonar":               {InputPer1K: 0.001, OutputPer1K: 0.001},
		"sonar-pro":           {InputPer1K: 0.003, OutputPer1K: 0.015},
		"sonar-reasoning":     {InputPer1K: 0.001, OutputPer1K: 0.005},
		"sonar-reasoning-pro": {InputPer1K: 0.002, OutputPer1K: 0.008},
	}
}

// Cost estimates the USD cost of usage on model.
func (p Pricing) Cost(model string, u Usage) float64 {
	price, ok := p[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*price.InputPer1K + float64(u.CompletionTokens)/1000*price.OutputPer1K
}
