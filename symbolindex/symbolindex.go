// Package symbolindex implements §4 component F, the Symbol Index: USR
// lookup, name search, kind search, canonical selection, and call
// resolution, built over store (C) and record (D) and filtered through
// visibility (E).
package symbolindex

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/patternmatch"
	"github.com/erigontech/symbolindex/record"
	"github.com/erigontech/symbolindex/store"
)

// VisibilityChecker is the subset of visibility.Checker the index needs,
// named here so symbolindex does not import the visibility package;
// indexsystem wires the two together.
type VisibilityChecker interface {
	IsUnitVisible(unitCode idcode.Code) (bool, error)
}

// ProviderOpener opens a record.Provider for a stored provider name, lazily
// resolving the underlying record file (§4.D).
type ProviderOpener func(providerName string) (*record.Provider, error)

// providerRef is one entry of the ProviderByUSR table value (§4.C).
type providerRef struct {
	ProviderCode idcode.Code
	Roles        model.Role
	RelRoles     model.Role
}

// Index is the Symbol Index (§4.F).
type Index struct {
	st         store.Store
	visible    VisibilityChecker
	open       ProviderOpener
	candidates *patternmatch.CandidateIndex
}

// New builds an Index. visible and open are supplied by the owning facade
// (indexsystem), which also owns the storeunitrepo that knows how to map
// provider names to unit visibility.
func New(st store.Store, visible VisibilityChecker, open ProviderOpener) *Index {
	idx := &Index{st: st, visible: visible, open: open, candidates: patternmatch.NewCandidateIndex()}
	// Seed the in-memory candidate index with the names already stored in
	// UsrByName; a failed read leaves it empty.
	_ = store.RunRead(st, func(tx store.ReadTx) error {
		return tx.ForEach(store.UsrByName, func(key, _ []byte) (bool, error) {
			idx.candidates.Add(string(key))
			return true, nil
		})
	})
	return idx
}

// normalizeKind applies the compiler-output normalisation of §4.F: a C++
// struct is reported as a class.
func normalizeKind(lang model.Language, kind model.Kind) model.Kind {
	if lang == model.LanguageCXX && kind == model.KindStruct {
		return model.KindClass
	}
	return kind
}

// ImportSymbols imports one provider's symbols inside an already-open write
// transaction (§4.F "Import"). unitCodes lists every unit that references
// this provider, used to populate the provider->units reverse edge that
// visibility filtering needs at query time.
func (idx *Index) ImportSymbols(tx store.WriteTx, providerName string, providerCode idcode.Code, unitCodes []idcode.Code, p *record.Provider) error {
	hasTestSymbol := false

	err := p.ForeachCoreSymbol(func(sym model.Symbol, roles model.Role, relations []model.Relation) (bool, error) {
		sym.Kind = normalizeKind(sym.Language, sym.Kind)

		relRoles := relationRoles(relations)
		if err := idx.mergeProviderByUSR(tx, sym.USR, providerCode, roles, relRoles); err != nil {
			return false, err
		}
		for _, rel := range relations {
			if err := idx.mergeRelatedProviderByUSR(tx, rel.Target, providerCode, rel.Roles); err != nil {
				return false, err
			}
		}
		if err := idx.addUsrByName(tx, sym.Name, sym.USR); err != nil {
			return false, err
		}
		if err := idx.addTrigramEntries(tx, sym.Name); err != nil {
			return false, err
		}
		if roles.Intersects(model.RoleDefinition) && sym.Properties.Has(model.PropertyUnitTest) {
			hasTestSymbol = true
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("importing symbols of provider %q: %w", providerName, err)
	}

	if err := tx.Put(store.ProviderName, store.EncodeCode(providerCode), []byte(providerName)); err != nil {
		return err
	}
	if hasTestSymbol {
		if err := tx.Put(store.ProvidersContainingTestSymbols, store.EncodeCode(providerCode), []byte{1}); err != nil {
			return err
		}
	}
	return idx.addUnitsOfProvider(tx, providerCode, unitCodes)
}

func relationRoles(relations []model.Relation) model.Role {
	var r model.Role
	for _, rel := range relations {
		r |= rel.Roles
	}
	return r
}

func (idx *Index) mergeProviderByUSR(tx store.WriteTx, usr model.USR, providerCode idcode.Code, roles, relRoles model.Role) error {
	key := []byte(usr)
	existing, err := loadProviderRefs(tx, key)
	if err != nil {
		return err
	}
	merged := false
	for i, e := range existing {
		if e.ProviderCode == providerCode {
			existing[i].Roles |= roles
			existing[i].RelRoles |= relRoles
			merged = true
			break
		}
	}
	if !merged {
		existing = append(existing, providerRef{ProviderCode: providerCode, Roles: roles, RelRoles: relRoles})
	}
	encoded, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return tx.Put(store.ProviderByUSR, key, encoded)
}

func (idx *Index) mergeRelatedProviderByUSR(tx store.WriteTx, target model.USR, providerCode idcode.Code, relRoles model.Role) error {
	key := []byte(target)
	existing, err := loadRelatedProviderRefs(tx, key)
	if err != nil {
		return err
	}
	merged := false
	for i, e := range existing {
		if e.ProviderCode == providerCode {
			existing[i].RelRoles |= relRoles
			merged = true
			break
		}
	}
	if !merged {
		existing = append(existing, providerRef{ProviderCode: providerCode, RelRoles: relRoles})
	}
	encoded, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return tx.Put(store.ProviderByRelatedUSR, key, encoded)
}

func loadRelatedProviderRefs(tx store.ReadTx, usrKey []byte) ([]providerRef, error) {
	v, err := tx.Get(store.ProviderByRelatedUSR, usrKey)
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var refs []providerRef
	if err := json.Unmarshal(v, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func loadProviderRefs(tx store.ReadTx, usrKey []byte) ([]providerRef, error) {
	v, err := tx.Get(store.ProviderByUSR, usrKey)
	if err != nil {
		if err == store.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	var refs []providerRef
	if err := json.Unmarshal(v, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (idx *Index) addUsrByName(tx store.WriteTx, name string, usr model.USR) error {
	key := []byte(name)
	var usrs []model.USR
	v, err := tx.Get(store.UsrByName, key)
	if err == nil {
		if jsonErr := json.Unmarshal(v, &usrs); jsonErr != nil {
			return jsonErr
		}
	} else if err != store.ErrKeyNotFound {
		return err
	}
	for _, u := range usrs {
		if u == usr {
			return nil
		}
	}
	usrs = append(usrs, usr)
	encoded, err := json.Marshal(usrs)
	if err != nil {
		return err
	}
	idx.candidates.Add(name)
	return tx.Put(store.UsrByName, key, encoded)
}

func (idx *Index) addTrigramEntries(tx store.WriteTx, name string) error {
	for _, tg := range patternmatch.Trigrams(name) {
		key := []byte(tg)
		var names []string
		v, err := tx.Get(store.NameTrigramIndex, key)
		if err == nil {
			if jsonErr := json.Unmarshal(v, &names); jsonErr != nil {
				return jsonErr
			}
		} else if err != store.ErrKeyNotFound {
			return err
		}
		present := false
		for _, n := range names {
			if n == name {
				present = true
				break
			}
		}
		if present {
			continue
		}
		names = append(names, name)
		encoded, err := json.Marshal(names)
		if err != nil {
			return err
		}
		if err := tx.Put(store.NameTrigramIndex, key, encoded); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) addUnitsOfProvider(tx store.WriteTx, providerCode idcode.Code, unitCodes []idcode.Code) error {
	key := store.EncodeCode(providerCode)
	existing, err := tx.Get(store.UnitsOfProvider, key)
	if err != nil && err != store.ErrKeyNotFound {
		return err
	}
	merged := store.DecodeCodeSet(existing)
	for _, u := range unitCodes {
		found := false
		for _, e := range merged {
			if e == u {
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, u)
		}
	}
	return tx.Put(store.UnitsOfProvider, key, store.EncodeCodeSet(merged))
}

// visibleProviderNames resolves a set of provider codes into (name,
// providerCode) pairs for providers that have at least one visible unit
// (§4.F "delegates to D with the visibility-filtered provider set").
func (idx *Index) visibleProviderNames(tx store.ReadTx, refs []providerRef) (map[idcode.Code]string, error) {
	out := make(map[idcode.Code]string)
	for _, ref := range refs {
		unitsRaw, err := tx.Get(store.UnitsOfProvider, store.EncodeCode(ref.ProviderCode))
		if err != nil && err != store.ErrKeyNotFound {
			return nil, err
		}
		visibleAny := false
		for _, u := range store.DecodeCodeSet(unitsRaw) {
			ok, err := idx.visible.IsUnitVisible(u)
			if err != nil {
				return nil, err
			}
			if ok {
				visibleAny = true
				break
			}
		}
		if !visibleAny {
			continue
		}
		nameRaw, err := tx.Get(store.ProviderName, store.EncodeCode(ref.ProviderCode))
		if err != nil {
			if err == store.ErrKeyNotFound {
				continue // §7 "query-time missing provider"
			}
			return nil, err
		}
		out[ref.ProviderCode] = string(nameRaw)
	}
	return out, nil
}

// ForeachOccurrenceByUSR implements §4.F's primary lookup.
func (idx *Index) ForeachOccurrenceByUSR(usr model.USR, roleSet model.Role, visit record.Visitor) error {
	var refs []providerRef
	var names map[idcode.Code]string
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		r, err := loadProviderRefs(tx, []byte(usr))
		if err != nil {
			return err
		}
		refs = filterByRoles(r, roleSet, false)
		names, err = idx.visibleProviderNames(tx, refs)
		return err
	})
	if err != nil {
		return err
	}
	return idx.scanProviders(names, map[model.USR]struct{}{usr: {}}, roleSet, false, visit)
}

// ForeachRelatedOccurrenceByUSR answers "what relates to usr" (e.g. what
// overrides it, what receives it): usr is the relation *target*, so the
// lookup goes through the reverse ProviderByRelatedUSR edge rather than
// ProviderByUSR, which is keyed by a symbol's own USR.
func (idx *Index) ForeachRelatedOccurrenceByUSR(usr model.USR, roleSet model.Role, visit record.Visitor) error {
	var refs []providerRef
	var names map[idcode.Code]string
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		r, err := loadRelatedProviderRefs(tx, []byte(usr))
		if err != nil {
			return err
		}
		refs = filterByRoles(r, roleSet, true)
		names, err = idx.visibleProviderNames(tx, refs)
		return err
	})
	if err != nil {
		return err
	}
	return idx.scanProviders(names, map[model.USR]struct{}{usr: {}}, roleSet, true, visit)
}

func filterByRoles(refs []providerRef, roleSet model.Role, related bool) []providerRef {
	if roleSet == 0 {
		return refs
	}
	var out []providerRef
	for _, r := range refs {
		field := r.Roles
		if related {
			field = r.RelRoles
		}
		if field.Intersects(roleSet) {
			out = append(out, r)
		}
	}
	return out
}

func (idx *Index) scanProviders(names map[idcode.Code]string, usrs map[model.USR]struct{}, roleSet model.Role, related bool, visit record.Visitor) error {
	for _, name := range names {
		p, err := idx.open(name)
		if err != nil {
			return err
		}
		var scanErr error
		if related {
			scanErr = p.ForeachOccurrenceByRelatedUSR(usrs, roleSet, visit)
		} else {
			scanErr = p.ForeachOccurrenceByUSR(usrs, roleSet, visit)
		}
		if scanErr != nil {
			return scanErr
		}
	}
	return nil
}

// UsrsByName resolves every USR registered under name.
func (idx *Index) UsrsByName(name string) ([]model.USR, error) {
	var usrs []model.USR
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		v, err := tx.Get(store.UsrByName, []byte(name))
		if err != nil {
			if err == store.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return json.Unmarshal(v, &usrs)
	})
	return usrs, err
}

// ForeachSymbolName returns every distinct name matching pattern under opts,
// using the trigram candidate index to shortlist before the precise
// patternmatch.Match call (§4.F "delegate to B and the name/kind/trigram
// indices").
func (idx *Index) ForeachSymbolName(pattern string, opts patternmatch.Options, visit func(name string) (bool, error)) error {
	candidates := idx.candidates.Candidates(pattern)
	sort.Strings(candidates)
	for _, name := range candidates {
		if !patternmatch.Match(pattern, name, opts) {
			continue
		}
		cont, err := visit(name)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// foreachCanonicalForUSRSet applies the canonical tie-break rule of §4.F: if
// any provider holding usr has a canonical-tagged occurrence, only canonical
// occurrences of usr are yielded across all its providers; otherwise
// declarations are yielded.
func (idx *Index) foreachCanonicalForUSRSet(usrs []model.USR, kindFilter func(model.Kind) bool, visit record.Visitor) error {
	for _, usr := range usrs {
		var refs []providerRef
		var names map[idcode.Code]string
		err := store.RunRead(idx.st, func(tx store.ReadTx) error {
			r, err := loadProviderRefs(tx, []byte(usr))
			if err != nil {
				return err
			}
			refs = r
			names, err = idx.visibleProviderNames(tx, refs)
			return err
		})
		if err != nil {
			return err
		}

		anyCanonical := false
		occsByProvider := make(map[idcode.Code][]model.SymbolOccurrence)
		for code, name := range names {
			p, err := idx.open(name)
			if err != nil {
				return err
			}
			var occs []model.SymbolOccurrence
			err = p.ForeachOccurrenceByUSR(map[model.USR]struct{}{usr: {}}, 0, func(occ model.SymbolOccurrence) (bool, error) {
				if kindFilter != nil && !kindFilter(occ.Symbol.Kind) {
					return true, nil
				}
				occs = append(occs, occ)
				if occ.HasCanonical() {
					anyCanonical = true
				}
				return true, nil
			})
			if err != nil {
				return err
			}
			occsByProvider[code] = occs
		}

		for _, occs := range occsByProvider {
			for _, occ := range occs {
				if anyCanonical && !occ.HasCanonical() {
					continue
				}
				if !anyCanonical && !occ.Roles.Intersects(model.RoleDeclaration) {
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
		}
	}
	return nil
}

// ForeachCanonicalOccurrenceByUSR is spec.md §4.F's canonical lookup by USR.
func (idx *Index) ForeachCanonicalOccurrenceByUSR(usr model.USR, visit record.Visitor) error {
	return idx.foreachCanonicalForUSRSet([]model.USR{usr}, nil, visit)
}

// ForeachCanonicalOccurrenceByName resolves name to USRs, then applies the
// canonical tie-break rule.
func (idx *Index) ForeachCanonicalOccurrenceByName(name string, visit record.Visitor) error {
	usrs, err := idx.UsrsByName(name)
	if err != nil {
		return err
	}
	return idx.foreachCanonicalForUSRSet(usrs, nil, visit)
}

// ForeachCanonicalOccurrenceByPattern resolves every name matching pattern,
// then applies the canonical tie-break rule over their USRs.
func (idx *Index) ForeachCanonicalOccurrenceByPattern(pattern string, opts patternmatch.Options, visit record.Visitor) error {
	var usrs []model.USR
	err := idx.ForeachSymbolName(pattern, opts, func(name string) (bool, error) {
		u, err := idx.UsrsByName(name)
		if err != nil {
			return false, err
		}
		usrs = append(usrs, u...)
		return true, nil
	})
	if err != nil {
		return err
	}
	return idx.foreachCanonicalForUSRSet(usrs, nil, visit)
}

// ForeachCanonicalOccurrenceByKind resolves every known name, filters
// occurrences by kind, then applies the canonical tie-break rule.
func (idx *Index) ForeachCanonicalOccurrenceByKind(kind model.Kind, visit record.Visitor) error {
	var usrs []model.USR
	err := idx.ForeachSymbolName("", patternmatch.Options{}, func(name string) (bool, error) {
		u, err := idx.UsrsByName(name)
		if err != nil {
			return false, err
		}
		usrs = append(usrs, u...)
		return true, nil
	})
	if err != nil {
		return err
	}
	return idx.foreachCanonicalForUSRSet(usrs, func(k model.Kind) bool { return k == kind }, visit)
}

// CountOfCanonicalSymbolsWithKind counts distinct canonical occurrences of
// the given kind (§4.F bullet 4).
func (idx *Index) CountOfCanonicalSymbolsWithKind(kind model.Kind) (int, error) {
	count := 0
	err := idx.ForeachCanonicalOccurrenceByKind(kind, func(occ model.SymbolOccurrence) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}

// ErrProviderStillReferenced is returned by RemoveOrphanProvider when the
// provider is still listed in UnitsOfProvider.
var ErrProviderStillReferenced = fmt.Errorf("symbolindex: provider still referenced by a unit")

// RemoveOrphanProvider purges a provider whose last referencing unit was
// removed (spec.md §9(b), left deferred there as a manual "FIXME"): it
// strips the provider from every ProviderByUSR/ProviderByRelatedUSR entry
// that lists it and drops ProviderName/UnitsOfProvider/
// ProvidersContainingTestSymbols. UsrByName and the trigram index are left
// untouched: a name resolving to a USR with no remaining provider is inert,
// not incorrect, and reclaiming it would require a name-level reference
// count this table does not keep.
func (idx *Index) RemoveOrphanProvider(providerCode idcode.Code) error {
	return store.RunWrite(idx.st, func(tx store.WriteTx) error {
		raw, err := tx.Get(store.UnitsOfProvider, store.EncodeCode(providerCode))
		if err != nil && err != store.ErrKeyNotFound {
			return err
		}
		if err == nil && len(store.DecodeCodeSet(raw)) > 0 {
			return ErrProviderStillReferenced
		}

		if err := stripProviderFromTable(tx, store.ProviderByUSR, providerCode); err != nil {
			return err
		}
		if err := stripProviderFromTable(tx, store.ProviderByRelatedUSR, providerCode); err != nil {
			return err
		}

		if err := tx.Delete(store.ProviderName, store.EncodeCode(providerCode)); err != nil {
			return err
		}
		if err := tx.Delete(store.UnitsOfProvider, store.EncodeCode(providerCode)); err != nil {
			return err
		}
		return tx.Delete(store.ProvidersContainingTestSymbols, store.EncodeCode(providerCode))
	})
}

// stripProviderFromTable scans every key of table, removing providerCode
// from each encoded providerRef list and deleting keys left empty.
func stripProviderFromTable(tx store.WriteTx, table store.Table, providerCode idcode.Code) error {
	type edit struct {
		key   []byte
		value []byte
		empty bool
	}
	var edits []edit
	err := tx.ForEach(table, func(key, value []byte) (bool, error) {
		var refs []providerRef
		if err := json.Unmarshal(value, &refs); err != nil {
			return false, err
		}
		kept := refs[:0:0]
		changed := false
		for _, r := range refs {
			if r.ProviderCode == providerCode {
				changed = true
				continue
			}
			kept = append(kept, r)
		}
		if !changed {
			return true, nil
		}
		if len(kept) == 0 {
			edits = append(edits, edit{key: append([]byte(nil), key...), empty: true})
			return true, nil
		}
		encoded, err := json.Marshal(kept)
		if err != nil {
			return false, err
		}
		edits = append(edits, edit{key: append([]byte(nil), key...), value: encoded})
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, e := range edits {
		if e.empty {
			if err := tx.Delete(table, e.key); err != nil {
				return err
			}
			continue
		}
		if err := tx.Put(table, e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}
