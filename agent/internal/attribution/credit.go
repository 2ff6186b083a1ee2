package attribution

// Credit is one share of a conversion assigned to a channel.
type Credit struct {
	Channel     int // registry index
	Value       float64
	Conversions float64
}

// CreditRule maps a validated path (registry indices, non-empty) and its
// value onto channel credits. Implementations must be pure: the engine calls
// Assign while holding its lock.
type CreditRule interface {
	Name() string
	Assign(path []int, value float64) []Credit
}

// LastTouch gives the full value and one full conversion to the final
// channel of the path.
type LastTouch struct{}

// Name implements CreditRule.
func (LastTouch) Name() string { return "last_touch" }

// Assign implements CreditRule.
func (LastTouch) Assign(path []int, value float64) []Credit {
	return []Credit{{Channel: path[len(path)-1], Value: value, Conversions: 1}}
}

// accumulator holds running credited totals per channel index.
type accumulator struct {
	value       []float64
	conversions []float64
}

func newAccumulator(channels int) *accumulator {
	return &accumulator{
		value:       make([]float64, channels),
		conversions: make([]float64, channels),
	}
}

func (a *accumulator) apply(credits []Credit) {
	for _, c := range credits {
		a.value[c.Channel] += c.Value
		a.conversions[c.Channel] += c.Conversions
	}
}
