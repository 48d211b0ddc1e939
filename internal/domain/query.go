package domain

// SortKey selects the opportunity sort dimension.
type SortKey string

const (
	SortProfit    SortKey = "profit"
	SortGas       SortKey = "gas"
	SortTimestamp SortKey = "timestamp"
	SortScore     SortKey = "score"
)

// ValidSortKey reports whether k is one of the supported sort keys.
func ValidSortKey(k SortKey) bool {
	switch k {
	case SortProfit, SortGas, SortTimestamp, SortScore:
		return true
	}
	return false
}

// SortOrder selects ascending or descending order.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ValidSortOrder reports whether o is a supported order.
func ValidSortOrder(o SortOrder) bool {
	return o == OrderAsc || o == OrderDesc
}

// OpportunityQuery is the typed form of the /opportunities query surface.
// Nil filter pointers mean no constraint from that dimension.
type OpportunityQuery struct {
	ChainID        int64    // 0 means all chains
	MinProfit      *float64 // excludes estProfitUsd < MinProfit
	MaxGas         *float64 // excludes gasUsd > MaxGas
	Dex            string   // substring match against dexIn OR dexOut
	Token          string   // substring match against baseToken OR quoteToken
	IncludeTestnet bool
	Limit          int
	Offset         int
	SortBy         SortKey
	Order          SortOrder
}
