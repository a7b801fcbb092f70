// Package filepathindex implements §4 component G, the File-Path Index:
// known-file checks, main-units-containing-file, the includes graph, and
// file-of-unit, all read through store (C) and filtered through visibility
// (E).
package filepathindex

import (
	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/store"
)

// VisibilityChecker is the subset of visibility.Checker this package needs.
type VisibilityChecker interface {
	IsUnitVisible(unitCode idcode.Code) (bool, error)
}

// Index is the File-Path Index.
type Index struct {
	st      store.Store
	visible VisibilityChecker
}

// New builds an Index over an already-populated store.
func New(st store.Store, visible VisibilityChecker) *Index {
	return &Index{st: st, visible: visible}
}

func loadUnit(tx store.ReadTx, unitCode idcode.Code) (model.Unit, bool, error) {
	var unit model.Unit
	raw, err := tx.Get(store.UnitInfo, store.EncodeCode(unitCode))
	if err != nil {
		if err == store.ErrKeyNotFound {
			return unit, false, nil
		}
		return unit, false, err
	}
	if err := store.DecodeJSON(raw, &unit); err != nil {
		return unit, false, err
	}
	return unit, true, nil
}

// KnownFile reports whether path's canonical form has ever been recorded as
// a unit's main file, output file or dependency, i.e. whether it has an
// entry under FilePathByCode.
// Since fileCode is a deterministic hash of the canonical path (§3 "Every
// durable string is also addressable by an IDCode"), forward resolution
// needs no lookup; this only confirms the path was actually imported.
func (idx *Index) KnownFile(canonicalPath string) (bool, error) {
	fileCode := idcode.Of(canonicalPath)
	var known bool
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		_, err := tx.Get(store.FilePathByCode, store.EncodeCode(fileCode))
		if err == store.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		known = true
		return nil
	})
	return known, err
}

// FileOfUnit resolves the canonical path of a unit's main file.
func (idx *Index) FileOfUnit(unitName string) (string, bool, error) {
	unitCode := idcode.Of(unitName)
	var path string
	var ok bool
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		unit, found, err := loadUnit(tx, unitCode)
		if err != nil || !found || !unit.HasMainFile {
			return err
		}
		raw, err := tx.Get(store.FilePathByCode, store.EncodeCode(unit.MainFileCode))
		if err == store.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		path = string(raw)
		ok = true
		return nil
	})
	return path, ok, err
}

// MainUnitsContainingFile returns the names of every visible unit that both
// has a main file and lists canonicalPath among its file dependencies
// (§2 row G "main-units-containing-file"), via the UnitsContainingFile
// reverse edge (§4.C).
func (idx *Index) MainUnitsContainingFile(canonicalPath string) ([]string, error) {
	fileCode := idcode.Of(canonicalPath)
	var names []string
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		raw, err := tx.Get(store.UnitsContainingFile, store.EncodeCode(fileCode))
		if err != nil {
			if err == store.ErrKeyNotFound {
				return nil
			}
			return err
		}
		for _, unitCode := range store.DecodeCodeSet(raw) {
			unit, found, err := loadUnit(tx, unitCode)
			if err != nil {
				return err
			}
			if !found || !unit.HasMainFile {
				continue
			}
			visible, err := idx.visible.IsUnitVisible(unitCode)
			if err != nil {
				return err
			}
			if visible {
				names = append(names, unit.Name)
			}
		}
		return nil
	})
	return names, err
}

// Includes returns the canonical paths canonicalPath's owning unit(s)
// directly depend on (§2 row G "includes"; **added**, see SPEC_FULL.md: a
// unit's fileDepends set is its include edge in this data model).
func (idx *Index) Includes(canonicalPath string) ([]string, error) {
	fileCode := idcode.Of(canonicalPath)
	var out []string
	seen := make(map[idcode.Code]struct{})
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		return tx.ForEach(store.UnitInfo, func(key, value []byte) (bool, error) {
			var unit model.Unit
			if err := store.DecodeJSON(value, &unit); err != nil {
				return false, err
			}
			if !unit.HasMainFile || unit.MainFileCode != fileCode {
				return true, nil
			}
			for _, fc := range unit.FileDepends {
				if fc == fileCode {
					continue
				}
				if _, ok := seen[fc]; ok {
					continue
				}
				raw, err := tx.Get(store.FilePathByCode, store.EncodeCode(fc))
				if err != nil {
					if err == store.ErrKeyNotFound {
						continue
					}
					return false, err
				}
				seen[fc] = struct{}{}
				out = append(out, string(raw))
			}
			return true, nil
		})
	})
	return out, err
}

// IncludedBy returns the canonical main-file paths of units that directly
// include canonicalPath (**added**; the reverse direction of Includes).
func (idx *Index) IncludedBy(canonicalPath string) ([]string, error) {
	fileCode := idcode.Of(canonicalPath)
	var out []string
	err := store.RunRead(idx.st, func(tx store.ReadTx) error {
		raw, err := tx.Get(store.UnitsContainingFile, store.EncodeCode(fileCode))
		if err != nil {
			if err == store.ErrKeyNotFound {
				return nil
			}
			return err
		}
		for _, unitCode := range store.DecodeCodeSet(raw) {
			unit, found, err := loadUnit(tx, unitCode)
			if err != nil {
				return err
			}
			if !found || !unit.HasMainFile || unit.MainFileCode == fileCode {
				continue
			}
			mainRaw, err := tx.Get(store.FilePathByCode, store.EncodeCode(unit.MainFileCode))
			if err != nil {
				if err == store.ErrKeyNotFound {
					continue
				}
				return err
			}
			out = append(out, string(mainRaw))
		}
		return nil
	})
	return out, err
}
