package visibility_test

import (
	"testing"

	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/visibility"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mainFile map[idcode.Code]idcode.Code // unit -> mainFileCode, present means hasMainFile
	outFile  map[idcode.Code]idcode.Code
	roots    map[idcode.Code][]idcode.Code
}

func (f *fakeLookup) UnitMainFile(u idcode.Code) (idcode.Code, bool, error) {
	fc, ok := f.mainFile[u]
	return fc, ok, nil
}
func (f *fakeLookup) UnitOutFile(u idcode.Code) (idcode.Code, error) {
	return f.outFile[u], nil
}
func (f *fakeLookup) RootUnitsOf(u idcode.Code) ([]idcode.Code, error) {
	return f.roots[u], nil
}

// TestVisibilityInvariant is spec.md §8 property 4.
func TestVisibilityInvariant(t *testing.T) {
	m := idcode.Of("a.c")
	u := idcode.Of("U0")

	lookup := &fakeLookup{mainFile: map[idcode.Code]idcode.Code{u: m}}
	checker := visibility.New(visibility.ModeLegacy, lookup)

	visible, err := checker.IsUnitVisible(u)
	require.NoError(t, err)
	require.True(t, visible, "legacy mode with no registrations reports all units visible")

	otherM := idcode.Of("other-main")
	checker.RegisterMainFiles([]idcode.Code{otherM})

	visible, err = checker.IsUnitVisible(u)
	require.NoError(t, err)
	require.False(t, visible)

	checker.RegisterMainFiles([]idcode.Code{m})
	visible, err = checker.IsUnitVisible(u)
	require.NoError(t, err)
	require.True(t, visible)
}

func TestRefcountedUnregister(t *testing.T) {
	m := idcode.Of("a.c")
	u := idcode.Of("U0")
	lookup := &fakeLookup{mainFile: map[idcode.Code]idcode.Code{u: m}}
	checker := visibility.New(visibility.ModeLegacy, lookup)

	checker.RegisterMainFiles([]idcode.Code{m})
	checker.RegisterMainFiles([]idcode.Code{m}) // refcount 2
	checker.UnregisterMainFiles([]idcode.Code{m})

	visible, err := checker.IsUnitVisible(u)
	require.NoError(t, err)
	require.True(t, visible, "refcount should still be 1")

	checker.UnregisterMainFiles([]idcode.Code{m})
	other := idcode.Of("unrelated")
	checker.RegisterMainFiles([]idcode.Code{other})
	visible, err = checker.IsUnitVisible(u)
	require.NoError(t, err)
	require.False(t, visible)
}

func TestTransitiveRootVisibility(t *testing.T) {
	m := idcode.Of("app-main.c")
	appUnit := idcode.Of("Uapp")
	libUnit := idcode.Of("Ulib") // module unit, no main file

	lookup := &fakeLookup{
		mainFile: map[idcode.Code]idcode.Code{appUnit: m},
		roots:    map[idcode.Code][]idcode.Code{libUnit: {appUnit}},
	}
	checker := visibility.New(visibility.ModeLegacy, lookup)
	checker.RegisterMainFiles([]idcode.Code{m})

	visible, err := checker.IsUnitVisible(libUnit)
	require.NoError(t, err)
	require.True(t, visible)
}

func TestExplicitOutputMode(t *testing.T) {
	out := idcode.Of("Uapp.out")
	appUnit := idcode.Of("Uapp")
	lookup := &fakeLookup{
		mainFile: map[idcode.Code]idcode.Code{appUnit: idcode.Of("main.c")},
		outFile:  map[idcode.Code]idcode.Code{appUnit: out},
	}
	checker := visibility.New(visibility.ModeExplicitOutput, lookup)
	checker.AddUnitOutFilePaths([]idcode.Code{out})

	visible, err := checker.IsUnitVisible(appUnit)
	require.NoError(t, err)
	require.True(t, visible)

	checker.RemoveUnitOutFilePaths([]idcode.Code{out})
	visible, err = checker.IsUnitVisible(appUnit)
	require.NoError(t, err)
	require.False(t, visible)
}
