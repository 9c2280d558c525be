package federation

import (
	"context"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/schema"
)

// source adapts the Service to traverse.Source. Hop timeouts are applied
// by the resolver.
type source struct {
	s *Service
}

func (src *source) Schema(ctx context.Context, typ, version string) (*schema.Schema, error) {
	sch, err := src.s.GetSchema(typ)
	if err != nil {
		return nil, err
	}
	if version == "" || version == sch.Version {
		return sch, nil
	}
	client, ref, err := src.s.route(typ)
	if err != nil {
		return nil, err
	}
	sch, err = client.Schema(ctx, typ, version)
	return sch, hopError(ref.Store, err)
}

func (src *source) Record(ctx context.Context, typ, id string) (*ir.Record, error) {
	client, ref, err := src.s.route(typ)
	if err != nil {
		return nil, err
	}
	rec, err := client.Record(ctx, typ, id)
	return rec, hopError(ref.Store, err)
}
