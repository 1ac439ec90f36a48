package scheduler

import (
	"sort"
	"sync"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
	"github.com/hcengineering/huly-ai-agent/internal/task"
)

// CostPoint maps a complexity signal to a coin cost. A set of points
// defines a piecewise-linear estimation curve.
type CostPoint struct {
	Complexity int
	Cost       int64
}

// DefaultCostCurve charges light tasks near the floor and grows
// super-linearly toward the complexity ceiling.
func DefaultCostCurve() []CostPoint {
	return []CostPoint{
		{Complexity: 0, Cost: 10},
		{Complexity: 50, Cost: 50},
		{Complexity: 100, Cost: 120},
	}
}

// defaultComplexities seed estimation before any executor feedback
// arrives for a type.
var defaultComplexities = map[task.Type]int{
	task.TypeFollowChat:        20,
	task.TypeAssistantChat:     30,
	task.TypeAssistantActivity: 25,
	task.TypeAssistantTask:     50,
	task.TypeSleep:             40,
	task.TypeMemoryMaintenance: 20,
}

// CostModel estimates the coin cost of a task before admission. It
// interpolates a complexity→cost curve and adapts per task type from the
// complexity the executor reports on completion.
type CostModel struct {
	mu       sync.Mutex
	curve    []CostPoint
	observed map[task.Type]int
}

// NewCostModel builds a model over the given curve, which must hold at
// least two points with strictly increasing complexities in [0, 100].
func NewCostModel(curve []CostPoint) (*CostModel, error) {
	if len(curve) < 2 {
		return nil, errs.NewValidation("cost_curve", "need at least two points, got %d", len(curve))
	}
	sorted := make([]CostPoint, len(curve))
	copy(sorted, curve)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Complexity < sorted[j].Complexity })
	for i, p := range sorted {
		if p.Complexity < 0 || p.Complexity > 100 {
			return nil, errs.NewValidation("cost_curve", "complexity %d outside 0-100", p.Complexity)
		}
		if p.Cost < 0 {
			return nil, errs.NewValidation("cost_curve", "negative cost at complexity %d", p.Complexity)
		}
		if i > 0 && p.Complexity == sorted[i-1].Complexity {
			return nil, errs.NewValidation("cost_curve", "duplicate complexity %d", p.Complexity)
		}
	}
	return &CostModel{
		curve:    sorted,
		observed: make(map[task.Type]int),
	}, nil
}

// Estimate returns the coin cost for a task of the given type and
// declared complexity. An unknown complexity falls back to the last
// complexity observed for the type, then to the type default.
func (m *CostModel) Estimate(t task.Type, complexity int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if complexity == task.UnknownComplexity {
		if last, ok := m.observed[t]; ok {
			complexity = last
		} else if def, ok := defaultComplexities[t]; ok {
			complexity = def
		} else {
			complexity = 50
		}
	}
	return m.interpolate(complexity)
}

// Observe records the complexity the executor reported for a finished
// task, refining future estimates for the type.
func (m *CostModel) Observe(t task.Type, complexity int) {
	if complexity == task.UnknownComplexity || complexity < 0 || complexity > 100 {
		return
	}
	m.mu.Lock()
	m.observed[t] = complexity
	m.mu.Unlock()
}

func (m *CostModel) interpolate(complexity int) int64 {
	first, last := m.curve[0], m.curve[len(m.curve)-1]
	if complexity <= first.Complexity {
		return first.Cost
	}
	if complexity >= last.Complexity {
		return last.Cost
	}
	for i := 1; i < len(m.curve); i++ {
		lo, hi := m.curve[i-1], m.curve[i]
		if complexity > hi.Complexity {
			continue
		}
		span := int64(hi.Complexity - lo.Complexity)
		offset := int64(complexity - lo.Complexity)
		return lo.Cost + (hi.Cost-lo.Cost)*offset/span
	}
	return last.Cost
}
