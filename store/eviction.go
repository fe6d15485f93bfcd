package store

import (
	"sort"
)

// EvictionPolicy decides which sessions to drop when persistence cannot
// proceed safely. Sessions are ranked by UpdatedAt descending and the
// newest K survive; everything else is removed outright, version
// histories and attached files included.
type EvictionPolicy struct {
	// Floor is the minimum session count eviction leaves behind and the
	// keep count for reactive eviction.
	Floor int

	// PreventiveKeep is the keep count for preventive (pre-write) eviction.
	PreventiveKeep int
}

// rank returns all sessions, most recently updated first
func (p EvictionPolicy) rank(c *Collection) []*Session {
	ranked := make([]*Session, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return newer(ranked[i], ranked[j])
	})
	return ranked
}

// Preventive evicts down to PreventiveKeep sessions (never below Floor).
// Returns the evicted session ids.
func (p EvictionPolicy) Preventive(c *Collection) []string {
	keep := p.PreventiveKeep
	if keep < p.Floor {
		keep = p.Floor
	}
	return p.keepTop(c, keep)
}

// Reactive evicts down to the Floor after a failed write.
// Returns the evicted session ids.
func (p EvictionPolicy) Reactive(c *Collection) []string {
	return p.keepTop(c, p.Floor)
}

// keepTop drops every session ranked below position keep and repoints
// CurrentID to the highest-ranked survivor if the active session was
// evicted.
func (p EvictionPolicy) keepTop(c *Collection, keep int) []string {
	if keep < 1 {
		keep = 1
	}
	ranked := p.rank(c)
	if len(ranked) <= keep {
		return nil
	}

	evicted := make([]string, 0, len(ranked)-keep)
	for _, s := range ranked[keep:] {
		delete(c.Sessions, s.ID)
		evicted = append(evicted, s.ID)
	}

	if _, ok := c.Sessions[c.CurrentID]; !ok {
		c.CurrentID = ranked[0].ID
	}

	return evicted
}
