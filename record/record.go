// Package record implements §4 component D, the Record Provider: a reader
// over one record file that enumerates symbols and occurrences, filtered by
// USR or predicate.
package record

import (
	"github.com/erigontech/symbolindex/model"
)

// Visitor is the enumeration callback (§6 "every enumeration takes a
// visitor that returns continue/stop").
type Visitor func(occ model.SymbolOccurrence) (cont bool, err error)

// CoreSymbolVisitor is the per-symbol callback of ForeachCoreSymbol; it
// receives the deduplicated roles for one USR within this record.
type CoreSymbolVisitor func(sym model.Symbol, roles model.Role, relations []model.Relation) (cont bool, err error)

// kindPrefersDeclarationAsCanonical lists the kinds for which an occurrence
// should be marked Canonical when it carries Declaration rather than
// Definition (§4.D canonical-role synthesis rule: "a symbol whose kind
// prefers declaration-as-canonical (e.g. ObjC protocols, forward-declarable
// types)").
var kindPrefersDeclarationAsCanonical = map[model.Kind]bool{
	model.KindProtocol: true,
	model.KindClass:    true,
	model.KindStruct:   true,
	model.KindEnum:     true,
}

// synthesizeCanonical returns the occurrence's roles with RoleCanonical set
// according to the kind-dependent rule of §4.D.
func synthesizeCanonical(kind model.Kind, roles model.Role) model.Role {
	if kindPrefersDeclarationAsCanonical[kind] {
		if roles.Intersects(model.RoleDeclaration) {
			return roles | model.RoleCanonical
		}
		return roles
	}
	if roles.Intersects(model.RoleDefinition) {
		return roles | model.RoleCanonical
	}
	return roles
}

// RawOccurrence is what a record-library reader yields before canonical
// synthesis; Reader implementations produce these, Provider applies the
// synthesis rule uniformly.
type RawOccurrence struct {
	Symbol    model.Symbol
	Location  model.Location
	Roles     model.Role
	Kind      model.ProviderKind
	Relations []model.Relation
}

// Reader is the minimal surface a record-library binding must provide; it
// corresponds to §9's "table of function pointers resolved at open" over
// record_reader_create / record_reader_search_symbols /
// record_reader_occurrences_apply.
type Reader interface {
	// AllOccurrences returns every occurrence in the record, unfiltered and
	// without canonical synthesis (Provider applies that).
	AllOccurrences() ([]RawOccurrence, error)
	Close() error
}

// Provider wraps a Reader, opened lazily for one (storeHandle, recordName)
// pair (§4.D).
type Provider struct {
	name   string
	opener func() (Reader, error)
	reader Reader
}

// NewProvider builds a Provider that lazily opens via opener on first use.
func NewProvider(name string, opener func() (Reader, error)) *Provider {
	return &Provider{name: name, opener: opener}
}

func (p *Provider) ensureOpen() (Reader, error) {
	if p.reader != nil {
		return p.reader, nil
	}
	r, err := p.opener()
	if err != nil {
		return nil, err
	}
	p.reader = r
	return r, nil
}

// Close releases the underlying reader, if opened.
func (p *Provider) Close() error {
	if p.reader == nil {
		return nil
	}
	return p.reader.Close()
}

// canonicalOccurrences applies canonical-role synthesis to every raw
// occurrence the reader returns. Each raw occurrence yields exactly one
// SymbolOccurrence with the location the reader reported; occurrences are
// not repeated per (file, target) association of the provider.
func (p *Provider) canonicalOccurrences() ([]model.SymbolOccurrence, error) {
	r, err := p.ensureOpen()
	if err != nil {
		return nil, err
	}
	raws, err := r.AllOccurrences()
	if err != nil {
		return nil, err
	}
	out := make([]model.SymbolOccurrence, 0, len(raws))
	for _, raw := range raws {
		out = append(out, model.SymbolOccurrence{
			Symbol:       raw.Symbol,
			Location:     raw.Location,
			Roles:        synthesizeCanonical(raw.Symbol.Kind, raw.Roles),
			ProviderKind: raw.Kind,
			Relations:    raw.Relations,
		})
	}
	return out, nil
}

// ForeachCoreSymbol walks all symbols once, deduplicating symbols sharing a
// USR within this record by OR-ing their roles and related-roles (§4.D.1).
func (p *Provider) ForeachCoreSymbol(visit CoreSymbolVisitor) error {
	occs, err := p.canonicalOccurrences()
	if err != nil {
		return err
	}

	type accum struct {
		sym       model.Symbol
		roles     model.Role
		relations []model.Relation
	}
	byUSR := make(map[model.USR]*accum)
	var order []model.USR
	for _, occ := range occs {
		a, ok := byUSR[occ.Symbol.USR]
		if !ok {
			a = &accum{sym: occ.Symbol}
			byUSR[occ.Symbol.USR] = a
			order = append(order, occ.Symbol.USR)
		}
		a.roles |= occ.Roles
		a.relations = append(a.relations, occ.Relations...)
	}

	for _, usr := range order {
		a := byUSR[usr]
		cont, err := visit(a.sym, a.roles, a.relations)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ForeachOccurrenceByUSR iterates occurrences whose symbol is among usrs AND
// whose roles intersect requiredRoles (§4.D.2).
func (p *Provider) ForeachOccurrenceByUSR(usrs map[model.USR]struct{}, requiredRoles model.Role, visit Visitor) error {
	occs, err := p.canonicalOccurrences()
	if err != nil {
		return err
	}
	for _, occ := range occs {
		if _, ok := usrs[occ.Symbol.USR]; !ok {
			continue
		}
		if requiredRoles != 0 && !occ.Roles.Intersects(requiredRoles) {
			continue
		}
		cont, err := visit(occ)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ForeachOccurrenceByRelatedUSR is ForeachOccurrenceByUSR but filtering on
// the occurrence's related symbols instead of its own (§4.D.3).
func (p *Provider) ForeachOccurrenceByRelatedUSR(usrs map[model.USR]struct{}, requiredRoles model.Role, visit Visitor) error {
	occs, err := p.canonicalOccurrences()
	if err != nil {
		return err
	}
	for _, occ := range occs {
		matched := false
		for _, rel := range occ.Relations {
			if _, ok := usrs[rel.Target]; ok && (requiredRoles == 0 || rel.Roles.Intersects(requiredRoles)) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		cont, err := visit(occ)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
