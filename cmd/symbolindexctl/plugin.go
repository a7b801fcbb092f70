package main

import (
	"fmt"
	"plugin"

	"github.com/erigontech/symbolindex/storeunitrepo"
)

// loadLiveStoreBinding resolves the opaque record/unit store library of
// spec.md §6 ("an opaque loadable library resolved by symbol") via Go's
// plugin package: no third-party library in the pack provides
// symbol-resolved dynamic loading, since that is an OS/ELF-level concern
// the standard library already owns outright (see DESIGN.md).
//
// The plugin must export two symbols:
//
//	LiveStore    storeunitrepo.LiveStore
//	RecordOpener storeunitrepo.RecordOpener
func loadLiveStoreBinding(path string) (storeunitrepo.LiveStore, storeunitrepo.RecordOpener, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening record/unit library plugin %q: %w", path, err)
	}

	liveSym, err := p.Lookup("LiveStore")
	if err != nil {
		return nil, nil, fmt.Errorf("plugin %q missing LiveStore symbol: %w", path, err)
	}
	live, ok := liveSym.(storeunitrepo.LiveStore)
	if !ok {
		return nil, nil, fmt.Errorf("plugin %q: LiveStore symbol does not implement storeunitrepo.LiveStore", path)
	}

	openerSym, err := p.Lookup("RecordOpener")
	if err != nil {
		return nil, nil, fmt.Errorf("plugin %q missing RecordOpener symbol: %w", path, err)
	}
	opener, ok := openerSym.(storeunitrepo.RecordOpener)
	if !ok {
		return nil, nil, fmt.Errorf("plugin %q: RecordOpener symbol does not implement storeunitrepo.RecordOpener", path)
	}

	return live, opener, nil
}
