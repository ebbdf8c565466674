package sat

import "container/heap"

// varHeap is a max-heap of unassigned variables ordered by VSIDS activity,
// used to pick the next decision variable in O(log n).
type varHeap struct {
	vars     []int
	indexOf  []int // indexOf[v] = position in vars, or -1 if absent
	activity []float64
}

func newVarHeap(numVars int, activity []float64) *varHeap {
	h := &varHeap{
		vars:     make([]int, 0, numVars),
		indexOf:  make([]int, numVars+1),
		activity: activity,
	}
	for v := 1; v <= numVars; v++ {
		h.indexOf[v] = -1
	}
	return h
}

func (h *varHeap) Len() int { return len(h.vars) }
func (h *varHeap) Less(i, j int) bool {
	return h.activity[h.vars[i]] > h.activity[h.vars[j]]
}
func (h *varHeap) Swap(i, j int) {
	h.vars[i], h.vars[j] = h.vars[j], h.vars[i]
	h.indexOf[h.vars[i]] = i
	h.indexOf[h.vars[j]] = j
}
func (h *varHeap) Push(x any) {
	v := x.(int)
	h.indexOf[v] = len(h.vars)
	h.vars = append(h.vars, v)
}
func (h *varHeap) Pop() any {
	old := h.vars
	n := len(old)
	v := old[n-1]
	h.vars = old[:n-1]
	h.indexOf[v] = -1
	return v
}

func (h *varHeap) contains(v int) bool {
	return h.indexOf[v] >= 0
}

func (h *varHeap) insert(v int) {
	if !h.contains(v) {
		heap.Push(h, v)
	}
}

func (h *varHeap) update(v int) {
	if i := h.indexOf[v]; i >= 0 {
		heap.Fix(h, i)
	}
}

// popMax removes and returns the highest-activity variable, or 0 if empty.
func (h *varHeap) popMax() int {
	if h.Len() == 0 {
		return 0
	}
	return heap.Pop(h).(int)
}
