package dataservice

import (
	"context"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/traverse"
)

// Resolve walks q from the local record (typ, id), hopping to other stores
// through the Remote where references lead.
func (s *Service) Resolve(ctx context.Context, typ, id string, q queryir.Query) (*traverse.Result, error) {
	if !s.isLocal(typ) {
		return nil, ir.NotFound("type %s not found", typ)
	}
	return s.resolver.Resolve(ctx, typ, id, q)
}

// cmtIdxRecord renders the index state kept for targetType as a read-only
// record of type cmtIdx.
func (s *Service) cmtIdxRecord(ctx context.Context, targetType string) (*ir.Record, error) {
	subs, err := s.store.Subscriptions(ctx, targetType)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.IndexEntries(ctx, targetType)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 && len(entries) == 0 {
		return nil, ir.NotFound("no index state for %s", targetType)
	}

	subList := make([]any, 0, len(subs))
	for _, sub := range subs {
		subList = append(subList, map[string]any{
			"sourceType": sub.SourceType,
			"attrPath":   sub.Attr,
			"template":   sub.Template,
			"version":    sub.Version,
		})
	}
	registry := map[string]any{}
	for _, e := range entries {
		loc := e.TargetType + "/" + e.TargetID + "/" + e.Path
		ids, _ := registry[loc].([]any)
		registry[loc] = append(ids, e.SourceID)
	}

	return &ir.Record{
		ID:   targetType,
		Type: ir.CmtIdxType,
		Data: map[string]any{
			"subscriptions": subList,
			"registry":      registry,
		},
	}, nil
}
