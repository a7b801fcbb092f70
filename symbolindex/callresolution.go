package symbolindex

import "github.com/erigontech/symbolindex/model"

// occurrencesOfUSR returns every occurrence of usr across visible providers,
// with no role filter — used internally by call resolution to inspect a
// symbol's own relations (kind, base/override edges), not just emit it.
func (idx *Index) occurrencesOfUSR(usr model.USR) ([]model.SymbolOccurrence, error) {
	var out []model.SymbolOccurrence
	err := idx.ForeachOccurrenceByUSR(usr, 0, func(occ model.SymbolOccurrence) (bool, error) {
		out = append(out, occ)
		return true, nil
	})
	return out, err
}

// overridersOf returns the set of symbol USRs carrying a direct {OverrideOf
// -> usr} relation (i.e. symbols that directly override usr).
func (idx *Index) overridersOf(usr model.USR) ([]model.USR, error) {
	seen := make(map[model.USR]struct{})
	var out []model.USR
	err := idx.ForeachRelatedOccurrenceByUSR(usr, model.RoleOverrideOf, func(occ model.SymbolOccurrence) (bool, error) {
		if _, ok := seen[occ.Symbol.USR]; !ok {
			seen[occ.Symbol.USR] = struct{}{}
			out = append(out, occ.Symbol.USR)
		}
		return true, nil
	})
	return out, err
}

// transitiveOverridersOf returns every symbol that (transitively) overrides
// usr, used by call-resolution step 4 ("collect all transitively-overriding
// symbols of the callee").
func (idx *Index) transitiveOverridersOf(usr model.USR) ([]model.USR, error) {
	visited := map[model.USR]struct{}{usr: {}}
	var all []model.USR
	frontier := []model.USR{usr}
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, u := range next {
			direct, err := idx.overridersOf(u)
			if err != nil {
				return nil, err
			}
			for _, d := range direct {
				if _, ok := visited[d]; ok {
					continue
				}
				visited[d] = struct{}{}
				all = append(all, d)
				frontier = append(frontier, d)
			}
		}
	}
	return all, nil
}

// resolveExtension substitutes an Extension-kind USR with the type it
// extends (via its ExtendedBy relation), per call-resolution step 3.
func (idx *Index) resolveExtension(usr model.USR) (model.USR, error) {
	occs, err := idx.occurrencesOfUSR(usr)
	if err != nil {
		return usr, err
	}
	for _, occ := range occs {
		if occ.Symbol.Kind != model.KindExtension {
			return usr, nil
		}
		for _, rel := range occ.Relations {
			if rel.Roles.Has(model.RoleExtendedBy) {
				return rel.Target, nil
			}
		}
	}
	return usr, nil
}

// receiverClassSet computes the receiver-class set of call-resolution
// step 3: related symbols of callee under ReceivedBy if callee has role
// Call, otherwise under ChildOf; Extension members are resolved to the type
// they extend.
func (idx *Index) receiverClassSet(callee model.SymbolOccurrence) ([]model.USR, error) {
	relationRole := model.RoleChildOf
	if callee.Roles.Has(model.RoleCall) {
		relationRole = model.RoleReceivedBy
	}

	var raw []model.USR
	for _, rel := range callee.Relations {
		if rel.Roles.Has(relationRole) {
			raw = append(raw, rel.Target)
		}
	}

	out := make([]model.USR, 0, len(raw))
	for _, usr := range raw {
		resolved, err := idx.resolveExtension(usr)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func containsUSR(set []model.USR, usr model.USR) bool {
	for _, u := range set {
		if u == usr {
			return true
		}
	}
	return false
}

// baseHierarchyOf walks the base hierarchy of calleeUSR's own occurrences
// (of any role) via OverrideOf (for methods) or BaseOf (for classes),
// accumulating base symbol USRs — call-resolution step 5.
func (idx *Index) baseHierarchyOf(calleeUSR model.USR) ([]model.USR, error) {
	occs, err := idx.occurrencesOfUSR(calleeUSR)
	if err != nil {
		return nil, err
	}
	visited := map[model.USR]struct{}{calleeUSR: {}}
	var bases []model.USR
	frontier := []model.USR{}
	for _, occ := range occs {
		for _, rel := range occ.Relations {
			if rel.Roles.Has(model.RoleOverrideOf) || rel.Roles.Has(model.RoleBaseOf) {
				if _, ok := visited[rel.Target]; !ok {
					visited[rel.Target] = struct{}{}
					bases = append(bases, rel.Target)
					frontier = append(frontier, rel.Target)
				}
			}
		}
	}
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, u := range next {
			parentOccs, err := idx.occurrencesOfUSR(u)
			if err != nil {
				return nil, err
			}
			for _, occ := range parentOccs {
				for _, rel := range occ.Relations {
					if rel.Roles.Has(model.RoleOverrideOf) || rel.Roles.Has(model.RoleBaseOf) {
						if _, ok := visited[rel.Target]; !ok {
							visited[rel.Target] = struct{}{}
							bases = append(bases, rel.Target)
							frontier = append(frontier, rel.Target)
						}
					}
				}
			}
		}
	}
	return bases, nil
}

// ForeachSymbolCallOccurrence implements §4.F's foreachSymbolCallOccurrence:
// the 5-step dynamic-dispatch call resolution algorithm, also covering
// scenario S3 and testable property 7.
func (idx *Index) ForeachSymbolCallOccurrence(callee model.SymbolOccurrence, visit func(model.SymbolOccurrence) (bool, error)) error {
	// Step 1: every direct Call occurrence of callee.
	stop := false
	err := idx.ForeachOccurrenceByUSR(callee.Symbol.USR, model.RoleCall, func(occ model.SymbolOccurrence) (bool, error) {
		cont, err := visit(occ)
		if !cont {
			stop = true
		}
		return cont, err
	})
	if err != nil || stop {
		return err
	}

	// Step 2: stop if not dynamic.
	if !callee.Roles.Has(model.RoleDynamic) {
		return nil
	}

	// Step 3: receiver-class set.
	receivers, err := idx.receiverClassSet(callee)
	if err != nil {
		return err
	}

	firstIsProtocol := false
	if len(receivers) > 0 {
		occs, err := idx.occurrencesOfUSR(receivers[0])
		if err != nil {
			return err
		}
		for _, occ := range occs {
			if occ.Symbol.Kind == model.KindProtocol {
				firstIsProtocol = true
				break
			}
		}
	}

	if firstIsProtocol {
		// Step 4: transitively-overriding symbols, emit their Call occurrences.
		overriders, err := idx.transitiveOverridersOf(callee.Symbol.USR)
		if err != nil {
			return err
		}
		for _, o := range overriders {
			err := idx.ForeachOccurrenceByUSR(o, model.RoleCall, func(occ model.SymbolOccurrence) (bool, error) {
				return visit(occ)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	// Step 5: walk base hierarchy, filter dynamic Call occurrences by
	// receiver compatibility.
	baseMethods, err := idx.baseHierarchyOf(callee.Symbol.USR)
	if err != nil {
		return err
	}
	for _, base := range baseMethods {
		err := idx.ForeachOccurrenceByUSR(base, model.RoleCall, func(occ model.SymbolOccurrence) (bool, error) {
			if !occ.Roles.Has(model.RoleDynamic) {
				return true, nil
			}
			var receivedBy []model.USR
			for _, rel := range occ.Relations {
				if rel.Roles.Has(model.RoleReceivedBy) {
					receivedBy = append(receivedBy, rel.Target)
				}
			}
			include := len(receivedBy) == 0
			if !include {
				for _, r := range receivedBy {
					if containsUSR(receivers, r) {
						include = true
						break
					}
				}
			}
			if !include {
				return true, nil
			}
			return visit(occ)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
