package compaction

import "strings"

// ModelBudget describes a model family's context window and the headroom
// reserved for output and tool schemas.
type ModelBudget struct {
	Family        string
	ContextWindow int
	Headroom      int
}

// MaxTokens is the prompt budget left after the headroom.
func (b ModelBudget) MaxTokens() int {
	return b.ContextWindow - b.Headroom
}

// Families are matched in order, case-insensitively, by substring.
var modelBudgets = []ModelBudget{
	{Family: "sonnet", ContextWindow: 200_000, Headroom: 92_000},
	{Family: "gpt", ContextWindow: 128_000, Headroom: 28_000},
	{Family: "gemini", ContextWindow: 1_000_000, Headroom: 300_000},
	{Family: "deepseek", ContextWindow: 128_000, Headroom: 28_000},
}

var fallbackBudget = ModelBudget{Family: "default", ContextWindow: 41_000, Headroom: 10_000}

// BudgetForModel returns the budget entry for model, or the conservative
// fallback for unknown families.
func BudgetForModel(model string) ModelBudget {
	lower := strings.ToLower(model)
	for _, b := range modelBudgets {
		if strings.Contains(lower, b.Family) {
			return b
		}
	}
	return fallbackBudget
}

// MaxTokensForModel returns the prompt token budget for model.
func MaxTokensForModel(model string) int {
	return BudgetForModel(model).MaxTokens()
}
