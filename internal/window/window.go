// Package window turns a reminder's trigger instant into the notification windows at
// which it should be delivered.
package window

import (
	"sort"
	"time"
)

const (
	DayAhead = "day_ahead"
	Near     = "near"
	Exact    = "exact"
)

// Category is one lead-time class of notification.
type Category struct {
	Type      string
	Lead      time.Duration
	Tolerance time.Duration
}

// Window is a concrete notification window for one trigger instant.
type Window struct {
	Type        string
	TriggerAt   time.Time
	ScheduledAt time.Time
	Tolerance   time.Duration
}

// Earliest is the first instant at which the window may fire.
func (w Window) Earliest() time.Time { return w.ScheduledAt.Add(-w.Tolerance) }

// Latest is the upper edge of the tolerance band.
func (w Window) Latest() time.Time { return w.ScheduledAt.Add(w.Tolerance) }

// Policy is an ordered set of categories plus the grace period of the last one.
// Categories are kept sorted by descending lead so windows come out earliest first.
type Policy struct {
	categories []Category
	grace      time.Duration
}

// DefaultPolicy is 24h, 3h and at-trigger windows with a ±3 minute band.
func DefaultPolicy() *Policy {
	return NewPolicy([]Category{
		{Type: DayAhead, Lead: 24 * time.Hour, Tolerance: 3 * time.Minute},
		{Type: Near, Lead: 3 * time.Hour, Tolerance: 3 * time.Minute},
		{Type: Exact, Lead: 0, Tolerance: 3 * time.Minute},
	}, time.Hour)
}

// NewPolicy builds a policy. Duplicate types keep the first occurrence.
func NewPolicy(categories []Category, grace time.Duration) *Policy {
	seen := make(map[string]bool, len(categories))
	cats := make([]Category, 0, len(categories))
	for _, c := range categories {
		if seen[c.Type] {
			continue
		}
		seen[c.Type] = true
		cats = append(cats, c)
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Lead > cats[j].Lead })
	return &Policy{categories: cats, grace: grace}
}

// Categories returns a copy of the policy's categories, longest lead first.
func (p *Policy) Categories() []Category {
	out := make([]Category, len(p.categories))
	copy(out, p.categories)
	return out
}

// Category looks up a category by type.
func (p *Policy) Category(windowType string) (Category, bool) {
	for _, c := range p.categories {
		if c.Type == windowType {
			return c, true
		}
	}
	return Category{}, false
}

// Has reports whether windowType belongs to the policy.
func (p *Policy) Has(windowType string) bool {
	_, ok := p.Category(windowType)
	return ok
}

// MaxTolerance is the widest tolerance band of any category.
func (p *Policy) MaxTolerance() time.Duration {
	var max time.Duration
	for _, c := range p.categories {
		if c.Tolerance > max {
			max = c.Tolerance
		}
	}
	return max
}

// Windows computes every window for triggerAt. Any instant is valid, including past
// ones; elapsed windows are returned as-is.
func (p *Policy) Windows(triggerAt time.Time) []Window {
	triggerAt = triggerAt.UTC()
	out := make([]Window, 0, len(p.categories))
	for _, c := range p.categories {
		out = append(out, Window{
			Type:        c.Type,
			TriggerAt:   triggerAt,
			ScheduledAt: triggerAt.Add(-c.Lead),
			Tolerance:   c.Tolerance,
		})
	}
	return out
}

// TriggerBand returns the range of trigger instants whose window of the given type
// is due at now.
func (p *Policy) TriggerBand(windowType string, now time.Time) (time.Time, time.Time, bool) {
	c, ok := p.Category(windowType)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	target := now.UTC().Add(c.Lead)
	return target.Add(-c.Tolerance), target.Add(c.Tolerance), true
}

// Due reports whether an item whose next attempt is at nextAttemptAt may fire at now.
// The tolerance band only bounds early firing; late items are always due.
func (p *Policy) Due(windowType string, nextAttemptAt, now time.Time) bool {
	c, ok := p.Category(windowType)
	if !ok {
		return false
	}
	return !now.Before(nextAttemptAt.Add(-c.Tolerance))
}

// Expired reports whether the window scheduled at scheduledAt has been superseded.
// A window expires once the next later window of the same trigger opens; the last one
// expires after the grace period.
func (p *Policy) Expired(windowType string, scheduledAt, now time.Time) bool {
	for i, c := range p.categories {
		if c.Type != windowType {
			continue
		}
		triggerAt := scheduledAt.Add(c.Lead)
		if i+1 < len(p.categories) {
			next := p.categories[i+1]
			return !now.Before(triggerAt.Add(-next.Lead).Add(-next.Tolerance))
		}
		return now.After(scheduledAt.Add(p.grace))
	}
	return true
}
