package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arb-edge/internal/domain"
	"arb-edge/internal/envelope"
)

// opportunitiesData is the data payload of a successful /opportunities
// response.
type opportunitiesData struct {
	Items  []*domain.ScoredOpportunity `json:"items"`
	Total  int                         `json:"total"`
	Limit  int                         `json:"limit"`
	Offset int                         `json:"offset"`
}

// handleOpportunities serves merged, scored, paginated opportunities.
// Either source failing degrades the result to the other source; only
// malformed input fails the request.
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	q, err := parseOpportunityQuery(r)
	if err != nil {
		envelope.WriteError(w, err)
		return
	}
	ctx := r.Context()

	var persisted []*domain.Opportunity
	if s.opportunities != nil {
		persisted, err = s.opportunities.List(ctx, q.ChainID, 0)
		if err != nil {
			s.logger.Warn("listing persisted opportunities failed, serving live only", zap.Error(err))
			persisted = nil
		}
	}

	var live []*domain.Opportunity
	if s.live != nil {
		live, err = s.live.FetchLive(ctx, q.ChainID)
		if err != nil {
			s.logger.Warn("live fetch failed, serving persisted only", zap.Error(err))
			live = nil
		}
	}

	start := time.Now()
	result, err := s.aggregator.Aggregate(ctx, persisted, live, q)
	if err != nil {
		envelope.WriteError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AggregateDuration.Observe(time.Since(start).Seconds())
	}

	if s.archiver != nil {
		s.archiver.Enqueue(result.Items)
	}

	envelope.WriteSuccess(w, http.StatusOK, opportunitiesData{
		Items:  result.Items,
		Total:  result.Total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// handleSafetyAddress serves the safety record for one address.
func (s *Server) handleSafetyAddress(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !common.IsHexAddress(address) {
		envelope.WriteError(w, envelope.Validation("address must be a hex EVM address", address))
		return
	}

	records, err := s.safety.Results(r.Context(), []string{address}, parsedChainID(r))
	if err != nil {
		envelope.WriteError(w, err)
		return
	}

	record, ok := records[domain.NormalizeAddress(address)]
	if !ok {
		envelope.WriteError(w, envelope.NotFound("no safety record for address"))
		return
	}
	envelope.WriteSuccess(w, http.StatusOK, record)
}

// handleSafetyBatch serves safety records for a comma-separated address
// list, keyed by normalized address.
func (s *Server) handleSafetyBatch(w http.ResponseWriter, r *http.Request) {
	addresses, err := parseAddresses(r.URL.Query().Get("addresses"), maxBatchAddresses)
	if err != nil {
		envelope.WriteError(w, err)
		return
	}
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			envelope.WriteError(w, envelope.Validation("address must be a hex EVM address", addr))
			return
		}
	}

	records, err := s.safety.Results(r.Context(), addresses, parsedChainID(r))
	if err != nil {
		envelope.WriteError(w, err)
		return
	}
	envelope.WriteSuccess(w, http.StatusOK, records)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	envelope.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parsedChainID reads an optional chainId parameter; malformed values fall
// back to 0 (all chains) since safety checks are chain-scoped hints only.
func parsedChainID(r *http.Request) int64 {
	chainID, err := strconv.ParseInt(r.URL.Query().Get("chainId"), 10, 64)
	if err != nil || chainID < 0 {
		return 0
	}
	return chainID
}
