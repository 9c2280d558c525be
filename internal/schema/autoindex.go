package schema

import "github.com/roach88/unitao/internal/queryir"

// Subscription is one maintained reverse index: collections at Attr inside
// Target records hold the ids of Source records, placed by Template.
type Subscription struct {
	Target   string
	Version  string
	Source   string
	Attr     string
	Template *IndexTemplate
}

// Subscriptions lists the indexTemplates declared by the schema, in
// declaration order.
func (s *Schema) Subscriptions() []Subscription {
	var subs []Subscription
	walkAttributes(s.Root, nil, map[*Definition]bool{}, func(attr queryir.Path, ref *RefProp) bool {
		if ref.Index != nil {
			subs = append(subs, Subscription{
				Target:   s.ID,
				Version:  s.Version,
				Source:   ref.Target,
				Attr:     attr.String(),
				Template: ref.Index,
			})
		}
		return true
	})
	return subs
}
