// Package contextview derives bounded, role-specific projections of the
// shared analysis store.
package contextview

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/perspective"
	"github.com/arbiterhq/arbiter/internal/store"
)

// Strategy selects how report content is projected into a view. It is fixed
// at construction time and never changes during a session.
type Strategy string

const (
	// StrategyFocused applies the role's stance-specific extraction rule.
	StrategyFocused Strategy = "focused"
	// StrategyFull projects whole reports, bounded only by the budget.
	StrategyFull Strategy = "full"
)

// DefaultBudgetUnits applies to roles without an explicit budget entry.
const DefaultBudgetUnits = 2000

// TruncationMarker is appended to a view when budget enforcement cut content.
const TruncationMarker = "[truncated]"

// Options configures a Builder.
type Options struct {
	Strategy  Strategy
	Budgets   map[core.Role]int           // role -> max units
	Relevance map[core.Role][]core.Domain // role -> domains in priority order
}

// Builder derives context views from an analysis store and memoizes them by
// (role, store snapshot version). Versions only ever increase, so stale
// entries need no explicit eviction.
type Builder struct {
	store     *store.AnalysisStore
	strategy  Strategy
	budgets   map[core.Role]int
	relevance map[core.Role][]core.Domain

	mu    sync.RWMutex
	cache map[string]*core.ContextView
	group singleflight.Group
}

// NewBuilder creates a view builder over the given store.
func NewBuilder(s *store.AnalysisStore, opts Options) *Builder {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyFocused
	}
	return &Builder{
		store:     s,
		strategy:  strategy,
		budgets:   opts.Budgets,
		relevance: opts.Relevance,
		cache:     make(map[string]*core.ContextView),
	}
}

// Budget returns the max units allowed for a role's view.
func (b *Builder) Budget(role core.Role) int {
	if units, ok := b.budgets[role]; ok && units > 0 {
		return units
	}
	return DefaultBudgetUnits
}

// BuildView returns the bounded projection of the store for a role. Views
// are cached per (role, snapshot version); concurrent requests for the same
// uncached key share a single computation. A missing domain report marks
// the view partial rather than failing the build.
func (b *Builder) BuildView(role core.Role) (*core.ContextView, error) {
	version := b.store.SnapshotVersion()
	key := fmt.Sprintf("%s@%d", role, version)

	b.mu.RLock()
	cached, ok := b.cache[key]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	result, err, _ := b.group.Do(key, func() (interface{}, error) {
		view := b.build(role, version)
		b.mu.Lock()
		b.cache[key] = view
		b.mu.Unlock()
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.ContextView), nil
}

// build derives a fresh view. Sections follow the role's relevance order;
// that order doubles as truncation priority (last section cut first).
func (b *Builder) build(role core.Role, version int) *core.ContextView {
	domains := b.relevance[role]
	if len(domains) == 0 {
		domains = core.AllDomains
	}
	stance := perspective.StanceOf(role)

	view := &core.ContextView{
		Role:    role,
		Version: version,
	}

	for _, domain := range domains {
		report, err := b.store.Get(domain)
		if err != nil {
			// Context completeness is a soft requirement.
			slog.Debug("Domain missing from store, building partial view",
				"role", role, "domain", domain)
			view.Partial = true
			continue
		}

		var text string
		if b.strategy == StrategyFull {
			text = strings.TrimSpace(report.Content)
		} else {
			text = extractForStance(report.Content, stance)
		}
		if text == "" {
			continue
		}
		view.Sections = append(view.Sections, core.Section{
			Label: string(domain),
			Text:  text,
		})
	}

	enforceBudget(view, b.Budget(role))
	return view
}

// AppendHistory returns a copy of the view with debate-history sections
// appended, bounded by maxUnits. The newest entries are kept; the oldest
// are truncated or dropped first when the budget forces a cut.
func AppendHistory(view *core.ContextView, history []core.Section, maxUnits int) *core.ContextView {
	out := &core.ContextView{
		Role:      view.Role,
		Version:   view.Version,
		Partial:   view.Partial,
		Truncated: view.Truncated,
		Sections:  append([]core.Section(nil), view.Sections...),
	}
	if len(history) == 0 {
		return out
	}

	remaining := maxUnits - out.Size()
	if remaining <= 0 {
		out.Truncated = true
		return out
	}

	// Walk newest to oldest, keeping entries that fit whole. The first
	// entry that does not fit is cut to the remaining allowance.
	var kept []core.Section
	cut := false
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		units := core.CountUnits(entry.Text)
		if units <= remaining {
			kept = append(kept, entry)
			remaining -= units
			continue
		}
		if remaining > 1 {
			entry.Text = trimToUnits(entry.Text, remaining-1) + " " + TruncationMarker
			kept = append(kept, entry)
			remaining = 0
		}
		cut = true
		break
	}
	if cut || len(kept) < len(history) {
		out.Truncated = true
	}

	// Restore chronological order among the kept entries.
	for i := len(kept) - 1; i >= 0; i-- {
		out.Sections = append(out.Sections, kept[i])
	}
	return out
}

// enforceBudget trims the view in place so its size never exceeds maxUnits.
// Lowest-priority sections lose content first; a marker records the cut.
func enforceBudget(view *core.ContextView, maxUnits int) {
	total := view.Size()
	if total <= maxUnits {
		return
	}
	view.Truncated = true

	// Reserve one unit for the truncation marker.
	allowance := maxUnits - 1
	if allowance < 0 {
		allowance = 0
	}
	overshoot := total - allowance

	for i := len(view.Sections) - 1; i >= 0 && overshoot > 0; i-- {
		units := core.CountUnits(view.Sections[i].Text)
		if units <= overshoot {
			view.Sections[i].Text = ""
			overshoot -= units
		} else {
			view.Sections[i].Text = trimToUnits(view.Sections[i].Text, units-overshoot)
			overshoot = 0
		}
	}

	// Drop emptied sections, keeping relative order.
	sections := view.Sections[:0]
	for _, s := range view.Sections {
		if s.Text != "" {
			sections = append(sections, s)
		}
	}
	view.Sections = sections

	if maxUnits >= 1 {
		if len(view.Sections) == 0 {
			view.Sections = append(view.Sections, core.Section{Label: "note", Text: TruncationMarker})
		} else {
			last := &view.Sections[len(view.Sections)-1]
			last.Text = last.Text + " " + TruncationMarker
		}
	}
}

// trimToUnits keeps the first n whitespace-separated tokens of text.
func trimToUnits(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return text
	}
	return strings.Join(fields[:n], " ")
}
