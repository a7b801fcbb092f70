package record_test

import (
	"testing"

	"github.com/erigontech/symbolindex/model"
	"github.com/erigontech/symbolindex/record"
	"github.com/stretchr/testify/require"
)

// TestRoleMonotonicityUnderDedup is spec.md §8 property 2.
func TestRoleMonotonicityUnderDedup(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "S", Kind: model.KindFunction}, Roles: model.RoleDeclaration},
		{Symbol: model.Symbol{USR: "S", Kind: model.KindFunction}, Roles: model.RoleDefinition},
	}}
	p := record.NewFakeProvider("r0", fake)

	var gotRoles model.Role
	count := 0
	err := p.ForeachCoreSymbol(func(sym model.Symbol, roles model.Role, relations []model.Relation) (bool, error) {
		count++
		gotRoles = roles
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.True(t, gotRoles.Has(model.RoleDeclaration))
	require.True(t, gotRoles.Has(model.RoleDefinition))
}

// TestCanonicalSynthesisDefinitionPreferred is spec.md §8 property 3 for a
// kind that prefers definition-as-canonical.
func TestCanonicalSynthesisDefinitionPreferred(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "S", Kind: model.KindFunction}, Roles: model.RoleDeclaration},
		{Symbol: model.Symbol{USR: "S", Kind: model.KindFunction}, Roles: model.RoleDefinition},
	}}
	p := record.NewFakeProvider("r0", fake)

	var canonical []model.SymbolOccurrence
	usrs := map[model.USR]struct{}{"S": {}}
	err := p.ForeachOccurrenceByUSR(usrs, 0, func(occ model.SymbolOccurrence) (bool, error) {
		if occ.HasCanonical() {
			canonical = append(canonical, occ)
		}
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, canonical, 1)
	require.True(t, canonical[0].Roles.Has(model.RoleDefinition))
}

// TestCanonicalSynthesisDeclarationPreferred covers a protocol/forward-
// declarable kind, which prefers declaration-as-canonical (§4.D).
func TestCanonicalSynthesisDeclarationPreferred(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{Symbol: model.Symbol{USR: "P", Kind: model.KindProtocol}, Roles: model.RoleDeclaration},
	}}
	p := record.NewFakeProvider("r0", fake)

	var occ model.SymbolOccurrence
	err := p.ForeachOccurrenceByUSR(map[model.USR]struct{}{"P": {}}, 0, func(o model.SymbolOccurrence) (bool, error) {
		occ = o
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, occ.HasCanonical())
}

func TestForeachOccurrenceByRelatedUSR(t *testing.T) {
	fake := &record.Fake{Occurrences: []record.RawOccurrence{
		{
			Symbol: model.Symbol{USR: "call-site", Kind: model.KindFunction},
			Roles:  model.RoleCall,
			Relations: []model.Relation{
				{Roles: model.RoleCalledBy, Target: "callee"},
			},
		},
	}}
	p := record.NewFakeProvider("r0", fake)

	var found bool
	err := p.ForeachOccurrenceByRelatedUSR(map[model.USR]struct{}{"callee": {}}, 0, func(occ model.SymbolOccurrence) (bool, error) {
		found = true
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, found)
}
