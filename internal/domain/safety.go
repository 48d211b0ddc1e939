package domain

// RiskLevel is the categorical rugpull risk classification.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// CheckResult is the outcome of a single safety sub-check.
// Provider failures are recorded as Passed=false, Score=0 with the error
// message retained for debuggability; they never propagate upward.
type CheckResult struct {
	Passed bool   `json:"passed"`
	Score  int    `json:"score"` // 0-100
	Error  string `json:"error,omitempty"`
}

// SafetyChecks holds all sub-check results for one address.
type SafetyChecks struct {
	Liquidity    CheckResult `json:"liquidity"`
	Verification CheckResult `json:"verification"`
	Distribution CheckResult `json:"distribution"`
	Volume       CheckResult `json:"volume"`
	Blacklisted  bool        `json:"blacklisted"`
	RugpullRisk  RiskLevel   `json:"rugpullRisk"`
}

// AssetSafety is the per-address safety record.
// Corresponds to the asset_safety table in PostgreSQL. Overwritten on each
// evaluation. A blacklisted address carries Score=0 regardless of other
// sub-check values.
type AssetSafety struct {
	Address   string       `json:"address"` // PRIMARY KEY, normalized lowercase
	Score     int          `json:"score"`   // 0-100
	Checks    SafetyChecks `json:"checks"`
	UpdatedAt int64        `json:"updatedAt"` // epoch ms
}
