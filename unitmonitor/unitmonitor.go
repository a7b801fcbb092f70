// Package unitmonitor implements §4 component H, the Unit Monitor: a
// runtime-only per-unit record of mod-time, user file/unit dependencies, and
// active out-of-date triggers.
package unitmonitor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/erigontech/symbolindex/internal/idcode"
	"github.com/erigontech/symbolindex/model"
)

// Repo is the subset of storeunitrepo.Repo a Monitor calls back into,
// named here to avoid an import cycle (storeunitrepo owns the map of
// Monitors and must also be the thing Monitors notify).
type Repo interface {
	OnUnitOutOfDate(unitCode idcode.Code, trigger model.OutOfDateTrigger)
}

// Monitor is the runtime-only UnitMonitor of §3.
type Monitor struct {
	unitCode idcode.Code
	unitName string
	repo     Repo
	log      *zap.Logger

	mu              sync.Mutex
	modTime         int64
	userFileDepends map[string]struct{}
	userUnitDepends map[idcode.Code]struct{}
	triggers        map[string]*model.OutOfDateTrigger
}

// New builds a Monitor, seeding its triggers from any already out-of-date
// user-unit dependency whose trigger mod-time exceeds modTime (§4.H
// "On initialise: seed outOfDateTriggers from any currently-out-of-date
// user-unit dependencies").
func New(unitCode idcode.Code, unitName string, modTime int64, userFileDepends []string, userUnitDepends []idcode.Code, seed []model.OutOfDateTrigger, repo Repo, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		unitCode:        unitCode,
		unitName:        unitName,
		modTime:         modTime,
		userFileDepends: toStringSet(userFileDepends),
		userUnitDepends: toCodeSet(userUnitDepends),
		triggers:        make(map[string]*model.OutOfDateTrigger),
		repo:            repo,
		log:             log,
	}
	for _, t := range seed {
		if t.ModTime > modTime {
			m.insertLocked(t)
		}
	}
	return m
}

func toStringSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

func toCodeSet(cs []idcode.Code) map[idcode.Code]struct{} {
	out := make(map[idcode.Code]struct{}, len(cs))
	for _, c := range cs {
		out[c] = struct{}{}
	}
	return out
}

// insertLocked must be called with mu held. The map key is the trigger's own
// path string (§4.H "the trigger's path-string must remain live: the key
// references the value"): overwriting a trigger always replaces key and
// value together rather than mutating the stored struct in place.
func (m *Monitor) insertLocked(t model.OutOfDateTrigger) {
	trigger := t
	m.triggers[trigger.Path] = &trigger
}

// ModTime returns the unit mod-time this monitor was constructed with.
func (m *Monitor) ModTime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modTime
}

// UnitCode returns the monitored unit's code.
func (m *Monitor) UnitCode() idcode.Code { return m.unitCode }

// Triggers snapshots the current out-of-date triggers.
func (m *Monitor) Triggers() []model.OutOfDateTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OutOfDateTrigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, *t)
	}
	return out
}

// UserFileDepends returns the monitored unit's non-system file dependencies.
func (m *Monitor) UserFileDepends() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.userFileDepends))
	for p := range m.userFileDepends {
		out = append(out, p)
	}
	return out
}

// CheckForOutOfDate stats every user file dependency (§4.H "if
// checkForOutOfDate is requested at creation (initial scan), also stat
// every user file; if the most recent file mod-time exceeds the unit
// mod-time, record a trigger for that file").
func (m *Monitor) CheckForOutOfDate(stat func(path string) (int64, error)) {
	var newestPath string
	var newest int64
	for _, path := range m.UserFileDepends() {
		modTime, err := stat(path)
		if err != nil {
			m.log.Debug("stat failed during initial out-of-date scan", zap.String("path", path), zap.Error(err))
			continue
		}
		if newestPath == "" || modTime > newest {
			newestPath, newest = path, modTime
		}
	}
	if newestPath != "" && newest > m.ModTime() {
		m.MarkOutOfDate(model.OutOfDateTrigger{Path: newestPath, ModTime: newest, Description: "stale at initial scan"}, false)
	}
}

// MarkOutOfDate implements §4.H's markOutOfDate: insert/overwrite iff the
// new trigger is newer than any existing entry for the same path, then
// notify the repo. synchronous selects between the inline
// checkUnitContainingFileIsOutOfDate path and the default async one (§5
// suspension point (d)).
func (m *Monitor) MarkOutOfDate(trigger model.OutOfDateTrigger, synchronous bool) {
	m.mu.Lock()
	existing, ok := m.triggers[trigger.Path]
	insert := !ok || trigger.ModTime > existing.ModTime
	if insert {
		m.insertLocked(trigger)
	}
	m.mu.Unlock()
	if !insert {
		return
	}

	if synchronous {
		m.repo.OnUnitOutOfDate(m.unitCode, trigger)
		return
	}
	go m.repo.OnUnitOutOfDate(m.unitCode, trigger)
}
