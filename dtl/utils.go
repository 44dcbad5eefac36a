package dtl

import (
	"log"
	"sort"
)

//HandleError aborts on an unrecoverable error.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

//UniformSource is the injected stream of uniform integers used by the
//random-subspace expander. *rand.Rand from golang.org/x/exp/rand satisfies it.
type UniformSource interface {
	Intn(n int) int
}

//argsortDesc returns the indices that order values by descending value.
//Ties keep their original order, so categorical features stay ahead of
//continuous ones when counts are equal.
func argsortDesc(values []float64) []int {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return values[indices[a]] > values[indices[b]]
	})
	return indices
}

//shuffleInts permutes a in place with draws from the supplied stream.
func shuffleInts(a []int, rng UniformSource) {
	for i := len(a) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		a[i], a[j] = a[j], a[i]
	}
}
