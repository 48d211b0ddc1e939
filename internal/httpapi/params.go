package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"arb-edge/internal/domain"
	"arb-edge/internal/envelope"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// parseOpportunityQuery maps the /opportunities query surface to its typed
// form. Unknown parameters are ignored; malformed values are validation
// errors rather than silently dropped filters.
func parseOpportunityQuery(r *http.Request) (*domain.OpportunityQuery, error) {
	values := r.URL.Query()
	q := &domain.OpportunityQuery{
		Limit:  defaultLimit,
		SortBy: domain.SortScore,
		Order:  domain.OrderDesc,
	}

	if raw := values.Get("chainId"); raw != "" {
		chainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || chainID <= 0 {
			return nil, envelope.Validation("chainId must be a positive integer", raw)
		}
		q.ChainID = chainID
	}

	if raw := values.Get("minProfit"); raw != "" {
		v, err := parseFiniteFloat(raw)
		if err != nil {
			return nil, envelope.Validation("minProfit must be a number", raw)
		}
		q.MinProfit = &v
	}

	if raw := values.Get("maxGas"); raw != "" {
		v, err := parseFiniteFloat(raw)
		if err != nil {
			return nil, envelope.Validation("maxGas must be a number", raw)
		}
		q.MaxGas = &v
	}

	q.Dex = strings.TrimSpace(values.Get("dex"))
	q.Token = strings.TrimSpace(values.Get("token"))

	if raw := values.Get("includeTestnet"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, envelope.Validation("includeTestnet must be a boolean", raw)
		}
		q.IncludeTestnet = include
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, envelope.Validation("limit must be a positive integer", raw)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		q.Limit = limit
	}

	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, envelope.Validation("offset must be a non-negative integer", raw)
		}
		q.Offset = offset
	}

	if raw := values.Get("sortBy"); raw != "" {
		key := domain.SortKey(raw)
		if !domain.ValidSortKey(key) {
			return nil, envelope.Validation("sortBy must be one of profit, gas, timestamp, score", raw)
		}
		q.SortBy = key
	}

	if raw := values.Get("order"); raw != "" {
		order := domain.SortOrder(raw)
		if !domain.ValidSortOrder(order) {
			return nil, envelope.Validation("order must be asc or desc", raw)
		}
		q.Order = order
	}

	return q, nil
}

// parseAddresses splits and validates the comma-separated addresses
// parameter for batch safety lookups.
func parseAddresses(raw string, max int) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, envelope.Validation("addresses parameter is required", nil)
	}

	parts := strings.Split(raw, ",")
	addresses := make([]string, 0, len(parts))
	for _, part := range parts {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		addresses = append(addresses, addr)
	}

	if len(addresses) == 0 {
		return nil, envelope.Validation("addresses parameter is required", nil)
	}
	if len(addresses) > max {
		return nil, envelope.Validation(fmt.Sprintf("at most %d addresses per request", max), len(addresses))
	}
	return addresses, nil
}

func parseFiniteFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	// ParseFloat accepts "NaN" and "Inf"; neither is a usable filter bound.
	if v != v || v > 1e308 || v < -1e308 {
		return 0, fmt.Errorf("not finite")
	}
	return v, nil
}
