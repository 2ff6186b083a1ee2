package attribution

// transitions is the dense state-to-state count matrix. Channel i lives at
// row/column i, START at n and CONVERSION at n+1. Counts only grow.
type transitions struct {
	n      int
	counts [][]uint64
}

func newTransitions(channels int) *transitions {
	size := channels + 2
	counts := make([][]uint64, size)
	for i := range counts {
		counts[i] = make([]uint64, size)
	}
	return &transitions{n: channels, counts: counts}
}

func (t *transitions) start() int      { return t.n }
func (t *transitions) conversion() int { return t.n + 1 }

// recordPath adds one to every edge of START -> c1 -> ... -> cn -> CONVERSION.
// path must be non-empty and hold valid channel indices; anything else is a
// caller bug and panics on the slice access.
func (t *transitions) recordPath(path []int) {
	t.counts[t.start()][path[0]]++
	for i := 0; i+1 < len(path); i++ {
		t.counts[path[i]][path[i+1]]++
	}
	t.counts[path[len(path)-1]][t.conversion()]++
}

// export copies the matrix into its public form.
func (t *transitions) export(reg *Registry) TransitionMatrix {
	states := make([]string, 0, t.n+2)
	states = append(states, reg.names...)
	states = append(states, StartState, ConversionState)

	counts := make([][]uint64, len(t.counts))
	for i, row := range t.counts {
		counts[i] = make([]uint64, len(row))
		copy(counts[i], row)
	}
	return TransitionMatrix{States: states, Counts: counts}
}

// TransitionMatrix is a copy of the transition counts. States lists the row
// and column labels: the channels in registry order, then START, then
// CONVERSION.
type TransitionMatrix struct {
	States []string   `json:"states"`
	Counts [][]uint64 `json:"counts"`
}

// Count returns the number of observed from -> to moves. Unknown state names
// count as zero.
func (m TransitionMatrix) Count(from, to string) uint64 {
	i, j := m.indexOf(from), m.indexOf(to)
	if i < 0 || j < 0 {
		return 0
	}
	return m.Counts[i][j]
}

// Total returns the sum of every cell.
func (m TransitionMatrix) Total() uint64 {
	var sum uint64
	for _, row := range m.Counts {
		for _, c := range row {
			sum += c
		}
	}
	return sum
}

func (m TransitionMatrix) indexOf(state string) int {
	for i, s := range m.States {
		if s == state {
			return i
		}
	}
	return -1
}
