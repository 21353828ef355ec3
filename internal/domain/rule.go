package domain

// RuleConfig defines an applicant flag rule.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression deciding whether the flag fires; must return bool
	Expression string `json:"expression"`

	// Optional CEL expression whose double value replaces {value} in Message
	ValueExpression string `json:"valueExpression,omitempty"`

	// Severity of the raised flag: info, warning or alert
	Severity string `json:"severity"`
	Message  string `json:"message"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID    string `json:"ruleId"`
	Fired     bool   `json:"fired"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	ProcessMs int64  `json:"processMs"` // Processing time in milliseconds
}

// Flag converts a fired result into a decision flag.
func (r RuleResult) Flag() Flag {
	return Flag{RuleID: r.RuleID, Type: r.Severity, Text: r.Message}
}

// VelocityRule configures the applicant velocity window.
type VelocityRule struct {
	WindowSecs int `json:"windowSecs" mapstructure:"window_secs"`
}
