package rules

import (
	"fmt"

	"data-act-broker/internal/model"
	"data-act-broker/internal/schema"
)

// Pair is two file types ordered so that Source.Order < Target.Order.
type Pair struct {
	Source model.FileType
	Target model.FileType
}

// NewPair orders two file types by their order index.
func NewPair(registry *schema.Registry, a, b string) (Pair, error) {
	sa, err := registry.Get(a)
	if err != nil {
		return Pair{}, err
	}
	sb, err := registry.Get(b)
	if err != nil {
		return Pair{}, err
	}
	if sa.FileType.Order == sb.FileType.Order {
		return Pair{}, fmt.Errorf("file types %s and %s share order %d", a, b, sa.FileType.Order)
	}
	if sa.FileType.Order > sb.FileType.Order {
		sa, sb = sb, sa
	}
	return Pair{Source: sa.FileType, Target: sb.FileType}, nil
}

// Matches reports whether a rule joins the two files of the pair, in
// either direction.
func (p Pair) Matches(r model.RuleSQL) bool {
	if !r.CrossFileFlag {
		return false
	}
	return (r.FileType == p.Source.Name && r.Target() == p.Target.Name) ||
		(r.FileType == p.Target.Name && r.Target() == p.Source.Name)
}

func (p Pair) String() string {
	return p.Source.Name + p.Target.Name
}
