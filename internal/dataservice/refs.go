package dataservice

import (
	"context"

	"github.com/roach88/unitao/internal/ir"
	"github.com/roach88/unitao/internal/queryir"
	"github.com/roach88/unitao/internal/schema"
)

// checkRefs verifies that every reference resolves. A type registered here
// is answered by the local store alone; any other type is looked up through
// the Remote. The first dangling reference fails with VALIDATION_FAILED
// naming its path.
func (s *Service) checkRefs(ctx context.Context, refs []schema.RefUse) error {
	checked := map[ir.Key]bool{}
	for _, ref := range refs {
		if ref.ID == "" {
			return ir.ValidationFailed(ref.Path.String(), "empty reference to %s", ref.Target)
		}
		key := ir.Key{Type: ref.Target, ID: ref.ID}
		if checked[key] {
			continue
		}
		ok, err := s.refExists(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ir.ValidationFailed(ref.Path.String(), "reference %s does not exist", key)
		}
		checked[key] = true
	}
	return nil
}

func (s *Service) refExists(ctx context.Context, key ir.Key) (bool, error) {
	if s.isLocal(key.Type) {
		return s.store.HasRecord(ctx, key.Type, key.ID)
	}
	if s.remote == nil {
		return false, nil
	}
	_, err := s.remote.Record(ctx, key.Type, key.ID)
	switch {
	case err == nil:
		return true, nil
	case ir.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// refsUnder keeps the references located at or below prefix. A bare field
// segment in prefix covers every item of that field.
func refsUnder(refs []schema.RefUse, prefix queryir.Path) []schema.RefUse {
	var out []schema.RefUse
	for _, r := range refs {
		if hasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func hasPrefix(p, prefix queryir.Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] == seg {
			continue
		}
		if seg.Selector != queryir.SelectNone || p[i].Field != seg.Field {
			return false
		}
	}
	return true
}
