package derive

import (
	"storefront"
	"storefront/catalog"
)

// SourceID is the copy source that stands for the source entity's ID.
const SourceID = "$id"

// Rule produces one dependent entity for each matching source entity.
// Key names the target field whose value identifies the derivation; the
// target kind must be unique on it.
type Rule struct {
	Name    string
	Source  storefront.Kind
	Target  storefront.Kind
	Key     string
	Matches func(src storefront.Entity) bool
	Build   func(src storefront.Entity) storefront.Fields
}

// Compile turns a declarative rule into a Rule.
func Compile(spec catalog.RuleSpec) Rule {
	allowed := append([]any(nil), spec.When.In...)
	return Rule{
		Name:   spec.Name,
		Source: spec.Source,
		Target: spec.Target,
		Key:    spec.Key,
		Matches: func(src storefront.Entity) bool {
			return storefront.In(spec.When.Field, allowed...).Match(src)
		},
		Build: func(src storefront.Entity) storefront.Fields {
			out := make(storefront.Fields, len(spec.Copy)+len(spec.Set))
			for k, v := range spec.Set {
				out[k] = v
			}
			for target, source := range spec.Copy {
				if source == SourceID {
					out[target] = src.ID
					continue
				}
				if v, ok := src.Fields[source]; ok {
					out[target] = v
				}
			}
			return out
		},
	}
}

// FromCatalog compiles every rule the catalog declares.
func FromCatalog(cat *catalog.Catalog) []Rule {
	specs := cat.Rules()
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		rules = append(rules, Compile(spec))
	}
	return rules
}
