package orchestrator

import "github.com/yairfalse/surface/types"

type indexedRule struct {
	pos  int
	rule types.Rule
}

// plan buckets rules by resource type scope. Rules for a type are the
// unscoped rules merged with that type's bucket in original load order.
type plan struct {
	unscoped []indexedRule
	scoped   map[string][]indexedRule
	cache    map[string][]types.Rule
}

func newPlan(rules []types.Rule) *plan {
	p := &plan{
		scoped: make(map[string][]indexedRule),
		cache:  make(map[string][]types.Rule),
	}
	for i, r := range rules {
		ir := indexedRule{pos: i, rule: r}
		if r.Scoped() {
			p.scoped[r.ResourceType] = append(p.scoped[r.ResourceType], ir)
		} else {
			p.unscoped = append(p.unscoped, ir)
		}
	}
	return p
}

// rulesFor returns the applicable rules for a resource type
func (p *plan) rulesFor(resourceType string) []types.Rule {
	if rules, ok := p.cache[resourceType]; ok {
		return rules
	}

	a, b := p.unscoped, p.scoped[resourceType]
	merged := make([]types.Rule, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if j >= len(b) || (i < len(a) && a[i].pos < b[j].pos) {
			merged = append(merged, a[i].rule)
			i++
		} else {
			merged = append(merged, b[j].rule)
			j++
		}
	}

	p.cache[resourceType] = merged
	return merged
}
