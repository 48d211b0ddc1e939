package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Opportunity represents an observed arbitrage event.
// Corresponds to the opportunities table in PostgreSQL; live records arrive
// from the computation engine with the same shape.
type Opportunity struct {
	ID           string  `json:"id"`           // PRIMARY KEY, unique within a merged set
	ChainID      int64   `json:"chainId"`      // positive EVM chain id
	DexIn        string  `json:"dexIn"`        // entry venue identifier
	DexOut       string  `json:"dexOut"`       // exit venue identifier
	BaseToken    string  `json:"baseToken"`    // on-chain token address
	QuoteToken   string  `json:"quoteToken"`   // on-chain token address
	AmountIn     string  `json:"amountIn"`     // decimal string, arbitrary precision
	EstProfitUsd float64 `json:"estProfitUsd"` // estimated profit in USD
	GasUsd       float64 `json:"gasUsd"`       // estimated gas cost in USD
	Ts           int64   `json:"ts"`           // creation timestamp (epoch ms)
	IsTestnet    bool    `json:"isTestnet"`
	UpdatedAt    int64   `json:"updatedAt,omitempty"` // stamped when a live record overlays a persisted one (epoch ms)
}

// ScoredOpportunity is an Opportunity with request-scoped derived scores.
// Derived fields are computed per request and never persisted.
type ScoredOpportunity struct {
	Opportunity
	Score          int `json:"score"`
	SafetyScore    int `json:"safetyScore"`
	ProfitScore    int `json:"profitScore"`
	GasScore       int `json:"gasScore"`
	FreshnessScore int `json:"freshnessScore"`
}

// Validate checks boundary invariants for a record arriving from the engine
// or from a client-facing write path.
func (o *Opportunity) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("opportunity id is required")
	}
	if o.ChainID <= 0 {
		return fmt.Errorf("opportunity %s: chainId must be positive, got %d", o.ID, o.ChainID)
	}
	if !common.IsHexAddress(o.BaseToken) {
		return fmt.Errorf("opportunity %s: invalid base token address %q", o.ID, o.BaseToken)
	}
	if !common.IsHexAddress(o.QuoteToken) {
		return fmt.Errorf("opportunity %s: invalid quote token address %q", o.ID, o.QuoteToken)
	}
	if o.AmountIn != "" {
		if _, err := decimal.NewFromString(o.AmountIn); err != nil {
			return fmt.Errorf("opportunity %s: invalid amountIn %q: %w", o.ID, o.AmountIn, err)
		}
	}
	if math.IsNaN(o.EstProfitUsd) || math.IsInf(o.EstProfitUsd, 0) {
		return fmt.Errorf("opportunity %s: estProfitUsd is not finite", o.ID)
	}
	if math.IsNaN(o.GasUsd) || math.IsInf(o.GasUsd, 0) {
		return fmt.Errorf("opportunity %s: gasUsd is not finite", o.ID)
	}
	if o.Ts <= 0 {
		return fmt.Errorf("opportunity %s: ts must be positive, got %d", o.ID, o.Ts)
	}
	return nil
}

// NormalizeAddress lowercases an EVM hex address for use as a map or store key.
// Checksummed and lowercased spellings of the same address must collide.
func NormalizeAddress(addr string) string {
	if !common.IsHexAddress(addr) {
		return addr
	}
	return strings.ToLower(common.HexToAddress(addr).Hex())
}
