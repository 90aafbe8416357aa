package models

// AgentTemplate is a pre-built agent configuration for a common strategy.
type AgentTemplate struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Strategy    StrategyID     `json:"strategy"`
	Defaults    map[string]any `json:"defaults"`
	Icon        string         `json:"icon"`
}

// BuiltinTemplates are the templates offered by the dashboard's deploy flow.
var BuiltinTemplates = []AgentTemplate{
	{
		ID:   "auto_rebalance",
		Name: "Auto-Rebalancer",
		Description: "Maintains a target asset ratio by automatically selling " +
			"over-weight assets and buying under-weight assets. Runs on a " +
			"configurable interval.",
		Strategy: StrategyAutoRebalance,
		Defaults: map[string]any{
			"targetRatio":   50,
			"checkInterval": 3600,
			"thresholdXlm":  1,
			"slippage":      1,
		},
		Icon: "⚖️",
	},
	{
		ID:   "bill_scheduler",
		Name: "Bill Scheduler",
		Description: "Executes recurring XLM payments to a fixed recipient on a " +
			"set schedule. Ideal for subscriptions, salaries, or automated bill " +
			"payments.",
		Strategy: StrategyRecurringPayment,
		Defaults: map[string]any{
			"amount":          10,
			"intervalSeconds": 86400,
			"maxExecutions":   30,
		},
		Icon: "📅",
	},
	{
		ID:   "price_alert",
		Name: "Price Alert",
		Description: "Monitors the XLM/USD price feed and executes a " +
			"pre-configured action when the price crosses a threshold. Supports " +
			"both upper and lower bounds.",
		Strategy: StrategyPriceAlert,
		Defaults: map[string]any{
			"upperBound":           0.5,
			"lowerBound":           0.05,
			"action":               "send_xlm",
			"alertAmount":          100,
			"checkIntervalSeconds": 300,
		},
		Icon: "📈",
	},
}

// TemplateByID looks up a built-in template. The second return is false when
// the id is unknown.
func TemplateByID(id string) (AgentTemplate, bool) {
	for _, t := range BuiltinTemplates {
		if t.ID == id {
			return t, true
		}
	}
	return AgentTemplate{}, false
}
