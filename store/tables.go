// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package store

// DBSchemaVersion is bumped whenever a table's key/value layout changes in
// a way that requires a full reimport.
var DBSchemaVersion = struct{ Major, Minor, Patch int }{Major: 1, Minor: 0, Patch: 0}

// Named tables (§4.C paragraph 1). Each constant documents its key and
// value encoding the way the teacher's erigon-lib/kv/tables.go documents
// Erigon's own tables.

const (
	// ProviderName
	// key   - providerCode (IDCode of record name, big-endian uint64)
	// value - record name (string)
	ProviderName Table = "ProviderName"

	// UnitInfo
	// key   - unitCode (IDCode of unit name, big-endian uint64)
	// value - encoded model.Unit
	UnitInfo Table = "UnitInfo"

	// ProviderByUSR
	// key   - usr (raw bytes)
	// value - encoded list of {providerCode, roles, relRoles}
	ProviderByUSR Table = "ProviderByUSR"

	// UnitsByFile
	// key   - fileCode (IDCode of canonical path)
	// value - encoded set<unitCode>
	UnitsByFile Table = "UnitsByFile"

	// UsrByName
	// key   - name (string)
	// value - encoded set<usr>
	UsrByName Table = "UsrByName"

	// NameTrigramIndex
	// key   - trigram (3 runes, lower-cased; a name shorter than 3 runes is its own key)
	// value - encoded set<name>
	NameTrigramIndex Table = "NameTrigramIndex"

	// FilePathByCode
	// key   - fileCode
	// value - canonical path (string)
	FilePathByCode Table = "FilePathByCode"

	// ModuleNameByCode
	// key   - moduleNameCode
	// value - module name (string)
	ModuleNameByCode Table = "ModuleNameByCode"

	// TargetByCode
	// key   - targetCode
	// value - target triple (string)
	TargetByCode Table = "TargetByCode"

	// DirByCode
	// key   - dirCode
	// value - directory path (string)
	DirByCode Table = "DirByCode"

	// ProvidersContainingTestSymbols
	// key   - providerCode
	// value - empty (presence-only set)
	ProvidersContainingTestSymbols Table = "ProvidersContainingTestSymbols"

	// DependentUnitsOfUnit is the reverse edge of Unit.unitDepends: for a
	// unit u that is depended upon, lists units that depend on it.
	// key   - unitCode (the depended-upon unit)
	// value - encoded set<unitCode> (the dependents)
	DependentUnitsOfUnit Table = "DependentUnitsOfUnit"

	// UnitsContainingFile is the reverse edge of Unit.fileDepends.
	// key   - fileCode
	// value - encoded set<unitCode>
	UnitsContainingFile Table = "UnitsContainingFile"

	// DatabaseInfo stores schema/layout metadata, mirroring the teacher's
	// own DbInfo table.
	// key   - info key (string, e.g. "schemaVersion")
	// value - opaque
	DatabaseInfo Table = "DbInfo"

	// ProviderByRelatedUSR is the reverse-relation edge: for a USR that is
	// the *target* of some other symbol's relation (e.g. the base method a
	// subclass override relates to), lists the providers containing such a
	// relating occurrence. Needed to answer "what overrides X" / "what is
	// received by X" without scanning every provider (added; spec.md §4.D.3
	// names the operation but not its storage, §4.F only spells out the
	// storage for the non-related lookup).
	// key   - usr (raw bytes, the relation target)
	// value - encoded list of {providerCode, relRoles}
	ProviderByRelatedUSR Table = "ProviderByRelatedUSR"

	// UnitsOfProvider is the reverse edge of Unit.providerDepends: which
	// units reference a given provider, needed to decide provider
	// visibility without rescanning every unit (added; not named as a
	// separate table in spec.md §4.C, which only says providerByUSR
	// entries carry a providerCode — this supplies the provider->units
	// direction that visibility filtering needs).
	// key   - providerCode
	// value - encoded set<unitCode>
	UnitsOfProvider Table = "UnitsOfProvider"
)

// AllTables lists every table a Store backend must create at open time.
var AllTables = []Table{
	ProviderName,
	UnitInfo,
	ProviderByUSR,
	UnitsByFile,
	UsrByName,
	NameTrigramIndex,
	FilePathByCode,
	ModuleNameByCode,
	TargetByCode,
	DirByCode,
	ProvidersContainingTestSymbols,
	DependentUnitsOfUnit,
	UnitsContainingFile,
	DatabaseInfo,
	UnitsOfProvider,
	ProviderByRelatedUSR,
}
