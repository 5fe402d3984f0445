package agents

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"ops-agent/internal/domain"
)

// maxReportedTools caps the names echoed back in ToolsInfo.
const maxReportedTools = 10

// OperationSource is the capability-discovery collaborator.
type OperationSource interface {
	SearchOperations(ctx context.Context, query string, topK int) ([]domain.Operation, error)
	ListOperations(ctx context.Context) ([]domain.Operation, error)
}

// Discovery selects operations either by semantic search or by listing the
// whole catalog.
type Discovery struct {
	source   OperationSource
	semantic bool
	timeout  time.Duration
}

func NewDiscovery(source OperationSource, semantic bool, timeout time.Duration) (*Discovery, error) {
	if source == nil {
		return nil, errors.New("agents: operation source must not be nil")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Discovery{source: source, semantic: semantic, timeout: timeout}, nil
}

// Discover returns at most topK operations in semantic mode, or every
// operation in fallback mode.
func (d *Discovery) Discover(ctx context.Context, query string, topK int) ([]domain.Operation, domain.ToolsInfo) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if !d.semantic {
		ops, err := d.source.ListOperations(callCtx)
		if err != nil {
			log.Warn().Err(err).Msg("list operations failed")
			ops = nil
		}
		return ops, domain.ToolsInfo{
			SemanticSearchUsed: false,
			TotalTools:         len(ops),
			ToolsCount:         len(ops),
		}
	}

	found, err := d.source.SearchOperations(callCtx, query, 0)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("operation search failed")
		found = nil
	}
	names := make([]string, 0, min(len(found), maxReportedTools))
	for _, op := range found[:min(len(found), maxReportedTools)] {
		names = append(names, op.Name)
	}
	ops := found
	if topK > 0 && len(ops) > topK {
		ops = ops[:topK]
	}
	log.Debug().Str("query", query).Int("found", len(found)).Int("used", len(ops)).Msg("operations discovered")
	return ops, domain.ToolsInfo{
		SemanticSearchUsed: true,
		SearchQuery:        query,
		ToolsFound:         names,
		ToolsCount:         len(ops),
	}
}
