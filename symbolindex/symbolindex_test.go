package symbolindex_test

import (
	"path/filepath"
	"testing"

	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/record"
	"github.com/erigontech/symbolindex/store"
	"github.com/erigontech/symbolindex/store/boltstore"
	"github.com/erigontech/symbolindex/symbolindex"
	"github.com/stretchr/testify/require"
)

type alwaysVisible struct{}

func (alwaysVisible) IsUnitVisible(idcode.Code) (bool, error) { return true, nil }

func newTestIndex(t *testing.T, providers map[string]*record.Fake) (*symbolindex.Index, store.Store) {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "idx.mdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opener := func(name string) (*record.Provider, error) {
		return record.NewFakeProvider(name, providers[name]), nil
	}
	return symbolindex.New(st, alwaysVisible{}, opener), st
}

// TestScenarioS1 is spec.md §8 scenario S1.
func TestScenarioS1(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{
			Symbol:   model.Symbol{USR: "c:@F@foo", Name: "foo", Kind: model.KindFunction, Language: model.LanguageC},
			Location: model.Location{Path: "a.c", Line: 7, UTF8Column: 3},
			Roles:    model.RoleDeclaration | model.RoleDefinition,
			Kind:     model.ProviderKindClang,
		},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)

	u0 := idcode.Of("U0")
	p0 := record.NewFakeProvider("R0", fake)
	err := store.RunWrite(st, func(tx store.WriteTx) error {
		return idx.ImportSymbols(tx, "R0", idcode.Of("R0"), []idcode.Code{u0}, p0)
	})
	require.NoError(t, err)

	var got []model.SymbolOccurrence
	err = idx.ForeachOccurrenceByUSR("c:@F@foo", model.RoleDefinition, func(occ model.SymbolOccurrence) (bool, error) {
		got = append(got, occ)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a.c", got[0].Location.Path)
	require.Equal(t, 7, got[0].Location.Line)
	require.Equal(t, 3, got[0].Location.UTF8Column)
	require.Equal(t, "", got[0].Location.ModuleName)
	require.False(t, got[0].Location.IsSystem)
	require.Equal(t, model.ProviderKindClang, got[0].ProviderKind)
}

// TestImportIdempotence is spec.md §8 property 1: re-importing an unchanged
// provider must not create duplicate providerByUSR entries.
func TestImportIdempotence(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "S", Name: "s", Kind: model.KindFunction}, Roles: model.RoleDeclaration},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)
	u0 := idcode.Of("U0")

	for i := 0; i < 2; i++ {
		p0 := record.NewFakeProvider("R0", fake)
		err := store.RunWrite(st, func(tx store.WriteTx) error {
			return idx.ImportSymbols(tx, "R0", idcode.Of("R0"), []idcode.Code{u0}, p0)
		})
		require.NoError(t, err)
	}

	var count int
	err := idx.ForeachOccurrenceByUSR("S", 0, func(occ model.SymbolOccurrence) (bool, error) {
		count++
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

// TestCppStructNormalizedToClass covers §4.F's import-time normalisation.
func TestCppStructNormalizedToClass(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "S", Name: "S", Kind: model.KindStruct, Language: model.LanguageCXX}, Roles: model.RoleDefinition},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)
	u0 := idcode.Of("U0")

	p0 := record.NewFakeProvider("R0", fake)
	err := store.RunWrite(st, func(tx store.WriteTx) error {
		return idx.ImportSymbols(tx, "R0", idcode.Of("R0"), []idcode.Code{u0}, p0)
	})
	require.NoError(t, err)

	var kind model.Kind
	err = idx.ForeachOccurrenceByUSR("S", 0, func(occ model.SymbolOccurrence) (bool, error) {
		kind = occ.Symbol.Kind
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, model.KindClass, kind)
}

// TestScenarioS3 is spec.md §8 scenario S3 / testable property 7: dynamic
// dispatch call resolution across a protocol hierarchy.
func TestScenarioS3(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		// P.f: protocol method declaration.
		{Symbol: model.Symbol{USR: "P.f", Name: "f", Kind: model.KindInstanceMethod}, Roles: model.RoleDeclaration},
		{Symbol: model.Symbol{USR: "P", Name: "P", Kind: model.KindProtocol}, Roles: model.RoleDeclaration},
		// C conforms to P and overrides f.
		{Symbol: model.Symbol{USR: "C.f", Name: "f", Kind: model.KindInstanceMethod}, Roles: model.RoleDeclaration,
			Relations: []model.Relation{{Roles: model.RoleOverrideOf, Target: "P.f"}}},
		// D: C overrides f again.
		{Symbol: model.Symbol{USR: "D.f", Name: "f", Kind: model.KindInstanceMethod}, Roles: model.RoleDeclaration,
			Relations: []model.Relation{{Roles: model.RoleOverrideOf, Target: "C.f"}}},
		// Call site: p.f() with role {Call, Dynamic}, receiver is the
		// protocol P. This occurrence's Symbol IS P.f (the called symbol);
		// its location marks where the call textually appears.
		{Symbol: model.Symbol{USR: "P.f", Name: "f", Kind: model.KindInstanceMethod}, Location: model.Location{Path: "main.swift", Line: 10}, Roles: model.RoleCall | model.RoleDynamic,
			Relations: []model.Relation{{Roles: model.RoleReceivedBy, Target: "P"}}},
		// Direct calls of C.f and D.f.
		{Symbol: model.Symbol{USR: "C.f", Name: "f", Kind: model.KindInstanceMethod}, Location: model.Location{Path: "main.swift", Line: 20}, Roles: model.RoleCall},
		{Symbol: model.Symbol{USR: "D.f", Name: "f", Kind: model.KindInstanceMethod}, Location: model.Location{Path: "main.swift", Line: 30}, Roles: model.RoleCall},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)
	u0 := idcode.Of("U0")

	p0 := record.NewFakeProvider("R0", fake)
	err := store.RunWrite(st, func(tx store.WriteTx) error {
		return idx.ImportSymbols(tx, "R0", idcode.Of("R0"), []idcode.Code{u0}, p0)
	})
	require.NoError(t, err)

	var callSite model.SymbolOccurrence
	err = idx.ForeachOccurrenceByUSR("P.f", model.RoleDynamic, func(occ model.SymbolOccurrence) (bool, error) {
		callSite = occ
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, model.USR("P"), callSite.Relations[0].Target)

	var calls []model.Location
	err = idx.ForeachSymbolCallOccurrence(callSite, func(occ model.SymbolOccurrence) (bool, error) {
		calls = append(calls, occ.Location)
		return true, nil
	})
	require.NoError(t, err)

	var paths []string
	for _, l := range calls {
		paths = append(paths, l.Path)
	}
	require.Contains(t, paths, "main.swift")
	require.GreaterOrEqual(t, len(calls), 3, "expect the call site itself plus C.f and D.f calls")
}

func TestRemoveOrphanProviderStripsReferencesAndRefusesWhileReferenced(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "A", Name: "a", Kind: model.KindFunction}, Location: model.Location{Path: "a.c", Line: 1}, Roles: model.RoleDefinition},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)
	u0 := idcode.Of("U0")
	providerCode := idcode.Of("R0")

	p0 := record.NewFakeProvider("R0", fake)
	err := store.RunWrite(st, func(tx store.WriteTx) error {
		return idx.ImportSymbols(tx, "R0", providerCode, []idcode.Code{u0}, p0)
	})
	require.NoError(t, err)

	require.ErrorIs(t, idx.RemoveOrphanProvider(providerCode), symbolindex.ErrProviderStillReferenced)

	err = store.RunWrite(st, func(tx store.WriteTx) error {
		return tx.Delete(store.UnitsOfProvider, store.EncodeCode(providerCode))
	})
	require.NoError(t, err)

	require.NoError(t, idx.RemoveOrphanProvider(providerCode))

	var occs []model.SymbolOccurrence
	err = idx.ForeachOccurrenceByUSR("A", 0, func(occ model.SymbolOccurrence) (bool, error) {
		occs = append(occs, occ)
		return true, nil
	})
	require.NoError(t, err)
	require.Empty(t, occs, "once its sole provider is removed, A must yield no occurrences")
}

// TestCountOfCanonicalSymbolsWithKind covers SPEC_FULL.md's mandated
// CountOfCanonicalSymbolsWithKind export end to end: it must actually count
// imported symbols, not silently return zero regardless of index contents
// (ForeachCanonicalOccurrenceByKind and CountOfCanonicalSymbolsWithKind both
// resolve "every known name" via ForeachSymbolName("", ...), which depends
// on the trigram candidate index correctly handling the empty pattern).
func TestCountOfCanonicalSymbolsWithKind(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "c:@F@foo", Name: "foo", Kind: model.KindFunction}, Location: model.Location{Path: "a.c", Line: 1}, Roles: model.RoleDefinition},
		{Symbol: model.Symbol{USR: "c:@S@Bar", Name: "Bar", Kind: model.KindClass}, Location: model.Location{Path: "a.c", Line: 2}, Roles: model.RoleDeclaration},
	}}
	providers := map[string]*record.Fake{"R0": fake}
	idx, st := newTestIndex(t, providers)

	u0 := idcode.Of("U0")
	p0 := record.NewFakeProvider("R0", fake)
	err := store.RunWrite(st, func(tx store.WriteTx) error {
		return idx.ImportSymbols(tx, "R0", idcode.Of("R0"), []idcode.Code{u0}, p0)
	})
	require.NoError(t, err)

	count, err := idx.CountOfCanonicalSymbolsWithKind(model.KindFunction)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = idx.CountOfCanonicalSymbolsWithKind(model.KindClass)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = idx.CountOfCanonicalSymbolsWithKind(model.KindEnum)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	var names []string
	err = idx.ForeachCanonicalOccurrenceByKind(model.KindFunction, func(occ model.SymbolOccurrence) (bool, error) {
		names = append(names, occ.Symbol.Name)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, names)
}
