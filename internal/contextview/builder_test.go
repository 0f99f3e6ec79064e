package contextview

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/arbiterhq/arbiter/internal/core"
	"github.com/arbiterhq/arbiter/internal/perspective"
	"github.com/arbiterhq/arbiter/internal/store"
)

func testStore(t *testing.T) *store.AnalysisStore {
	t.Helper()
	s := store.New()

	reports := map[core.Domain]string{
		core.DomainMarket:       "Shares posted strong gains this week. Volume surged past the average. Some traders flagged volatility risk near resistance.",
		core.DomainNews:         "The company beat earnings estimates. A pending lawsuit remains a concern. Management announced an expansion into new regions.",
		core.DomainFundamentals: "Revenue growth accelerated to 14%. Debt load declined quarter over quarter. Margins remain weak in the hardware segment.",
	}
	for d, content := range reports {
		if err := s.Publish(core.DomainReport{Domain: d, Content: content}); err != nil {
			t.Fatalf("publish %s failed: %v", d, err)
		}
	}
	return s
}

func defaultOptions() Options {
	return Options{
		Budgets: map[core.Role]int{
			perspective.RoleAdvocate: 500,
			perspective.RoleCritic:   500,
			perspective.RoleAnalyst:  500,
		},
		Relevance: map[core.Role][]core.Domain{
			perspective.RoleAdvocate: {core.DomainMarket, core.DomainNews, core.DomainFundamentals},
			perspective.RoleCritic:   {core.DomainNews, core.DomainFundamentals, core.DomainMarket},
			perspective.RoleAnalyst:  {core.DomainFundamentals, core.DomainMarket, core.DomainNews},
		},
	}
}

func TestBuildViewStanceExtraction(t *testing.T) {
	b := NewBuilder(testStore(t), defaultOptions())

	t.Run("AdvocateKeepsPositive", func(t *testing.T) {
		view, err := b.BuildView(perspective.RoleAdvocate)
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		joined := viewText(view)
		if !strings.Contains(joined, "strong gains") {
			t.Errorf("positive sentence missing from advocate view: %q", joined)
		}
		if strings.Contains(joined, "pending lawsuit") {
			t.Errorf("negative-only sentence leaked into advocate view: %q", joined)
		}
	})

	t.Run("CriticKeepsNegative", func(t *testing.T) {
		view, err := b.BuildView(perspective.RoleCritic)
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		joined := viewText(view)
		if !strings.Contains(joined, "lawsuit") {
			t.Errorf("negative sentence missing from critic view: %q", joined)
		}
	})

	t.Run("SectionsFollowRelevanceOrder", func(t *testing.T) {
		view, _ := b.BuildView(perspective.RoleCritic)
		if len(view.Sections) == 0 || view.Sections[0].Label != string(core.DomainNews) {
			t.Errorf("wrong first section: %+v", view.Sections)
		}
	})
}

func TestBudgetInvariant(t *testing.T) {
	s := testStore(t)

	for _, budget := range []int{5, 12, 40, 500} {
		opts := defaultOptions()
		for role := range opts.Budgets {
			opts.Budgets[role] = budget
		}
		b := NewBuilder(s, opts)

		for role := range opts.Budgets {
			view, err := b.BuildView(role)
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if view.Size() > budget {
				t.Errorf("budget violated for %s at %d units: size %d", role, budget, view.Size())
			}
		}
	}
}

func TestTruncationMarker(t *testing.T) {
	opts := defaultOptions()
	opts.Budgets[perspective.RoleAdvocate] = 10
	b := NewBuilder(testStore(t), opts)

	view, err := b.BuildView(perspective.RoleAdvocate)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !view.Truncated {
		t.Error("expected truncated view")
	}
	if !strings.Contains(viewText(view), TruncationMarker) {
		t.Error("truncation marker missing")
	}
	if view.Size() > 10 {
		t.Errorf("size %d exceeds budget 10", view.Size())
	}
}

func TestPartialViewOnMissingDomain(t *testing.T) {
	s := store.New()
	s.Publish(core.DomainReport{Domain: core.DomainMarket, Content: "Strong momentum and record gains."})

	b := NewBuilder(s, defaultOptions())
	view, err := b.BuildView(perspective.RoleAdvocate)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !view.Partial {
		t.Error("expected partial view with missing domains")
	}
	if len(view.Sections) != 1 {
		t.Errorf("wrong section count: got %d, want 1", len(view.Sections))
	}
}

func TestCacheIdempotence(t *testing.T) {
	b := NewBuilder(testStore(t), defaultOptions())

	first, err := b.BuildView(perspective.RoleAnalyst)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, err := b.BuildView(perspective.RoleAnalyst)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// No intervening publish: byte-identical views.
	a, _ := json.Marshal(first)
	bb, _ := json.Marshal(second)
	if string(a) != string(bb) {
		t.Error("repeated builds at same version differ")
	}
	if first != second {
		t.Error("expected cache hit to return the same instance")
	}
}

func TestCacheInvalidatedByPublish(t *testing.T) {
	s := testStore(t)
	b := NewBuilder(s, defaultOptions())

	before, _ := b.BuildView(perspective.RoleAnalyst)

	if err := s.Publish(core.DomainReport{Domain: core.DomainMacro, Content: "Rates held steady."}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	after, _ := b.BuildView(perspective.RoleAnalyst)
	if after.Version == before.Version {
		t.Error("view version did not advance after publish")
	}
}

func TestSingleFlightConcurrency(t *testing.T) {
	b := NewBuilder(testStore(t), defaultOptions())

	var wg sync.WaitGroup
	views := make([]*core.ContextView, 16)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.BuildView(perspective.RoleAdvocate)
			if err != nil {
				t.Errorf("concurrent build failed: %v", err)
				return
			}
			views[i] = v
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(views); i++ {
		if views[i] != views[0] {
			t.Fatal("concurrent builds for the same key produced distinct views")
		}
	}
}

func TestAppendHistory(t *testing.T) {
	b := NewBuilder(testStore(t), defaultOptions())
	base, _ := b.BuildView(perspective.RoleAnalyst)

	t.Run("FitsWithinBudget", func(t *testing.T) {
		history := []core.Section{
			{Label: "round 0: advocate", Text: "early words"},
			{Label: "round 0: critic", Text: "later words"},
		}
		view := AppendHistory(base, history, 500)
		if len(view.Sections) != len(base.Sections)+2 {
			t.Errorf("wrong section count: got %d", len(view.Sections))
		}
		// Chronological order preserved.
		last := view.Sections[len(view.Sections)-1]
		if last.Label != "round 0: critic" {
			t.Errorf("wrong final section: %s", last.Label)
		}
	})

	t.Run("OldestTruncatedFirst", func(t *testing.T) {
		budget := base.Size() + 4
		history := []core.Section{
			{Label: "old", Text: "one two three four five six"},
			{Label: "new", Text: "seven eight nine"},
		}
		view := AppendHistory(base, history, budget)
		if view.Size() > budget {
			t.Errorf("history append violated budget: size %d > %d", view.Size(), budget)
		}
		if !view.Truncated {
			t.Error("expected truncated view")
		}
		joined := viewText(view)
		if !strings.Contains(joined, "nine") {
			t.Error("newest history entry was dropped before oldest")
		}
		if strings.Contains(joined, "six") {
			t.Error("oldest history entry survived intact")
		}
	})

	t.Run("DoesNotMutateBase", func(t *testing.T) {
		sizeBefore := base.Size()
		AppendHistory(base, []core.Section{{Label: "h", Text: "extra tokens here"}}, 10000)
		if base.Size() != sizeBefore {
			t.Error("AppendHistory mutated the base view")
		}
	})
}

func viewText(view *core.ContextView) string {
	var sb strings.Builder
	for _, s := range view.Sections {
		fmt.Fprintf(&sb, "%s\n", s.Text)
	}
	return sb.String()
}
