// Package model holds the durable entity types of §3 ("Data model"): Symbol,
// SymbolOccurrence, Provider, Unit, plus the out-of-date trigger and unit
// event types. The runtime-only unit-monitor and visibility state live in
// the unitmonitor and visibility packages, not here. These types are shared
// by every other package in this module and contain no behaviour beyond
// small predicates.
package model

import "github.com/erigontech/symbolindex/internal/idcode"

// USR is a Unified Symbol Resolution string: an opaque byte-identity key
// stable across translation units.
type USR string

// Language is the source language a Symbol was declared in.
type Language uint8

const (
	LanguageC Language = iota
	LanguageObjC
	LanguageCXX
	LanguageSwift
)

// Kind enumerates the symbol kinds named in §3. Only the kinds this module's
// call-resolution and canonical-selection logic actually branches on are
// given names beyond the generic ones; the rest pass through opaquely.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindModule
	KindNamespace
	KindEnum
	KindStruct
	KindClass
	KindProtocol
	KindExtension
	KindFunction
	KindInstanceMethod
	KindClassMethod
	KindConstructor
	KindDestructor
	KindCommentTag
)

// Property is a bitset of symbol properties (§3 Symbol.properties).
type Property uint32

const (
	PropertyUnitTest Property = 1 << iota
	PropertyGeneric
	PropertySwiftAsync
	PropertyProtocolInterface
	PropertyLocal
)

func (p Property) Has(f Property) bool { return p&f != 0 }

// Role is a bitset combining the primary, relationship and index-synthesised
// roles of §3. Primary and relationship roles come from the record file;
// RoleCanonical is synthesised by the index at import/query time (§4.D).
type Role uint32

const (
	RoleDeclaration Role = 1 << iota
	RoleDefinition
	RoleReference
	RoleRead
	RoleWrite
	RoleCall
	RoleDynamic
	RoleAddressOf
	RoleImplicit
	RoleUndefinition

	RoleChildOf
	RoleBaseOf
	RoleOverrideOf
	RoleReceivedBy
	RoleCalledBy
	RoleExtendedBy
	RoleAccessorOf
	RoleContainedBy
	RoleIBTypeOf
	RoleSpecializationOf

	RoleCanonical
)

// Intersects reports whether r and other share at least one bit.
func (r Role) Intersects(other Role) bool { return r&other != 0 }

// Has reports whether r carries every bit of other.
func (r Role) Has(other Role) bool { return r&other == other }

// Symbol is immutable once imported (§3).
type Symbol struct {
	USR        USR
	Name       string
	Kind       Kind
	SubKind    uint16
	Language   Language
	Properties Property
}

// ProviderKind distinguishes the two record-producing toolchains named in
// §3 (SymbolOccurrence.providerKind).
type ProviderKind uint8

const (
	ProviderKindClang ProviderKind = iota
	ProviderKindSwift
)

// Location is the per-file position of an occurrence (§6 "Query surface").
type Location struct {
	Path       string
	Line       int // 1-based
	UTF8Column int // 1-based
	ModuleName string
	IsSystem   bool
	UnitModTime int64 // unix nanos
}

// Relation is a (role-set, symbol) pair attached to an occurrence (§3).
type Relation struct {
	Roles  Role
	Target USR
}

// SymbolOccurrence is one per-file appearance of a Symbol (§3).
type SymbolOccurrence struct {
	Symbol       Symbol
	Location     Location
	Roles        Role
	ProviderKind ProviderKind
	Relations    []Relation
}

// HasCanonical reports whether this occurrence carries the synthesised
// Canonical role.
func (o SymbolOccurrence) HasCanonical() bool { return o.Roles.Has(RoleCanonical) }

// ProviderAssociation is one (file, target, mod-time, module, isSystem)
// tuple a Provider is associated with (§3 Provider.associated).
type ProviderAssociation struct {
	File     string
	Target   string
	ModTime  int64
	Module   string
	IsSystem bool
}

// Provider is a record viewed as an origin of symbols (§3).
type Provider struct {
	Name         string
	Code         idcode.Code // IDCode(name)
	Kind         ProviderKind
	Associations []ProviderAssociation
}

// ProviderDependency is one element of Unit.providerDepends (§3).
type ProviderDependency struct {
	ProviderCode   idcode.Code
	FileCode       idcode.Code
	ModuleNameCode idcode.Code
	IsSystem       bool
}

// Unit is one compiled translation unit's metadata (§3).
type Unit struct {
	Name               string
	ModTime            int64
	HasMainFile        bool
	MainFileCode       idcode.Code
	OutFileCode        idcode.Code
	Target             string
	Sysroot            string
	IsSystem           bool
	SymbolProviderKind ProviderKind
	HasTestSymbols     bool
	ProviderDepends    []ProviderDependency
	UnitDepends        []idcode.Code
	FileDepends        []idcode.Code
}

// OutOfDateTrigger explains why a unit is believed stale (§3, §6 GLOSSARY).
type OutOfDateTrigger struct {
	Path        string
	ModTime     int64
	Description string
}

// UnitEventKind enumerates the store notification kinds of §4.J.
type UnitEventKind uint8

const (
	EventAdded UnitEventKind = iota
	EventModified
	EventRemoved
	EventDirectoryDeleted
)

// UnitEventInfo is the scheduler's internal translation of a store
// notification (§4.J step 1), shared between the scheduler, the store-unit
// repo, and the async delegate so none of the three needs to import another
// for this one type.
type UnitEventInfo struct {
	Kind          UnitEventKind
	Name          string
	IsInitialScan bool
	IsDependency  bool
}
