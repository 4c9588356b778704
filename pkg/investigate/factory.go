package investigate

import (
	"fmt"
	"time"
)

// NewInvestigator selects the lookup backend. providerType is "openrouter"
// or "mock".
func NewInvestigator(providerType, apiKey, model string) (Investigator, error) {
	switch providerType {
	case "openrouter":
		if apiKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		return NewOpenRouterInvestigator(apiKey, model), nil
	case "mock":
		return NewMockInvestigator(50 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported lookup provider: %s", providerType)
	}
}
