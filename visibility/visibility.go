// Package visibility implements §4 component E, the Visibility Checker:
// filtering query results to units rooted in currently-registered main
// files or output files.
package visibility

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/symbolindex/internal/idcode"
)

// Mode selects between the two registration schemes of §4.E.
type Mode int

const (
	// ModeLegacy tracks visibility via registered main files.
	ModeLegacy Mode = iota
	// ModeExplicitOutput tracks visibility via registered unit output files.
	ModeExplicitOutput
)

// UnitLookup resolves the information the checker needs about a unit
// without depending on the storeunitrepo package (avoiding an import
// cycle): whether it has a main file, its main/out file code, and its
// direct root units for module/PCH units with no main file of their own.
type UnitLookup interface {
	// UnitMainFile returns (mainFileCode, hasMainFile) for unitCode.
	UnitMainFile(unitCode idcode.Code) (idcode.Code, bool, error)
	// UnitOutFile returns outFileCode for unitCode.
	UnitOutFile(unitCode idcode.Code) (idcode.Code, error)
	// RootUnitsOf follows one reverse dependency edge and returns the units
	// that directly depend on unitCode; the checker recurses through them
	// itself to find a root (§4.E "walk reverse edges foreachRootUnitOfUnit").
	RootUnitsOf(unitCode idcode.Code) ([]idcode.Code, error)
}

const visibilityCacheSize = 8192

// Checker is the visibility state of §3 ("Visibility state (runtime-only)").
type Checker struct {
	mode   Mode
	lookup UnitLookup

	mu               sync.Mutex
	mainFileRefcount map[idcode.Code]uint32
	visibleMainFiles map[idcode.Code]struct{}
	outUnitFiles     map[idcode.Code]struct{}

	cache *lru.Cache[idcode.Code, bool]
}

// New builds a Checker in the given mode. Per invariant 5, when neither mode
// has any registration, legacy mode (the default posture) reports all units
// visible.
func New(mode Mode, lookup UnitLookup) *Checker {
	cache, err := lru.New[idcode.Code, bool](visibilityCacheSize)
	if err != nil {
		panic(err)
	}
	return &Checker{
		mode:             mode,
		lookup:           lookup,
		mainFileRefcount: make(map[idcode.Code]uint32),
		visibleMainFiles: make(map[idcode.Code]struct{}),
		outUnitFiles:     make(map[idcode.Code]struct{}),
		cache:            cache,
	}
}

// RegisterMainFiles increments the refcount for each fileCode and inserts it
// into visibleMainFiles.
func (c *Checker) RegisterMainFiles(fileCodes []idcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fc := range fileCodes {
		c.mainFileRefcount[fc]++
		c.visibleMainFiles[fc] = struct{}{}
	}
	c.invalidateLocked()
}

// UnregisterMainFiles decrements the refcount; a fileCode leaves
// visibleMainFiles only when its refcount reaches zero.
func (c *Checker) UnregisterMainFiles(fileCodes []idcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fc := range fileCodes {
		if c.mainFileRefcount[fc] == 0 {
			continue
		}
		c.mainFileRefcount[fc]--
		if c.mainFileRefcount[fc] == 0 {
			delete(c.mainFileRefcount, fc)
			delete(c.visibleMainFiles, fc)
		}
	}
	c.invalidateLocked()
}

// AddUnitOutFilePaths inserts into outUnitFiles (explicit-output mode).
func (c *Checker) AddUnitOutFilePaths(fileCodes []idcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fc := range fileCodes {
		c.outUnitFiles[fc] = struct{}{}
	}
	c.invalidateLocked()
}

// RemoveUnitOutFilePaths removes from outUnitFiles.
func (c *Checker) RemoveUnitOutFilePaths(fileCodes []idcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fc := range fileCodes {
		delete(c.outUnitFiles, fc)
	}
	c.invalidateLocked()
}

func (c *Checker) invalidateLocked() {
	c.cache.Purge()
}

func (c *Checker) hasAnyRegistration() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visibleMainFiles) > 0 || len(c.outUnitFiles) > 0
}

func (c *Checker) rootSatisfiesMode(fileCode idcode.Code, hasFile bool) bool {
	if !hasFile {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case ModeExplicitOutput:
		_, ok := c.outUnitFiles[fileCode]
		return ok
	default:
		_, ok := c.visibleMainFiles[fileCode]
		return ok
	}
}

// IsUnitVisible implements §4.E's is-unit-visible decision and invariant 5.
func (c *Checker) IsUnitVisible(unitCode idcode.Code) (bool, error) {
	if !c.hasAnyRegistration() {
		return true, nil
	}

	if v, ok := c.cache.Get(unitCode); ok {
		return v, nil
	}

	visible, err := c.computeVisibility(unitCode, make(map[idcode.Code]bool))
	if err != nil {
		return false, err
	}
	c.cache.Add(unitCode, visible)
	return visible, nil
}

func (c *Checker) computeVisibility(unitCode idcode.Code, visited map[idcode.Code]bool) (bool, error) {
	if visited[unitCode] {
		// cyclic unit graph (§9): break the cycle, contribute nothing.
		return false, nil
	}
	visited[unitCode] = true

	mainFileCode, hasMainFile, err := c.lookup.UnitMainFile(unitCode)
	if err != nil {
		return false, err
	}
	if hasMainFile {
		switch c.mode {
		case ModeExplicitOutput:
			outFileCode, err := c.lookup.UnitOutFile(unitCode)
			if err != nil {
				return false, err
			}
			return c.rootSatisfiesMode(outFileCode, outFileCode != 0), nil
		default:
			return c.rootSatisfiesMode(mainFileCode, true), nil
		}
	}

	roots, err := c.lookup.RootUnitsOf(unitCode)
	if err != nil {
		return false, err
	}
	for _, root := range roots {
		ok, err := c.computeVisibility(root, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// IsOutputFileRegistered reports whether fileCode is currently a registered
// explicit-output unit file; used by the scheduler's explicit-output skip
// rule (§4.J step 5) to tell a known output unit from an unrelated one.
func (c *Checker) IsOutputFileRegistered(fileCode idcode.Code) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outUnitFiles[fileCode]
	return ok
}
