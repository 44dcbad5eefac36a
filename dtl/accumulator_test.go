package dtl

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRegressionNodeStats(t *testing.T) {
	tree := NewDecisionTree(0, 0, true, Gini)
	conSplits := mat.NewDense(1, 2, []float64{1.5, 2.5})
	acc := NewTreeAccumulator(2, nil, 1, tree.TreeDepth, RegressionStats, false)

	for _, row := range [][2]float64{{1, 1}, {2, 2}, {3, 3}} {
		acc.Accumulate(tree, nil, []float64{row[0]}, row[1], 1, conSplits)
	}

	want := []float64{3, 6, 14, 3}
	for c, w := range want {
		if got := acc.NodeStats.At(0, c); got != w {
			t.Fatalf("node stats[%d] = %v, want %v", c, got, w)
		}
	}

	// threshold 2.5, true side: rows {1, 2}
	trueIndex := acc.indexConStats(0, 1, true)
	wantTrue := []float64{2, 3, 5, 2}
	for c, w := range wantTrue {
		if got := acc.ConStats.At(0, trueIndex+c); got != w {
			t.Fatalf("true-side stats[%d] = %v, want %v", c, got, w)
		}
	}
	falseIndex := acc.indexConStats(0, 1, false)
	wantFalse := []float64{1, 3, 9, 1}
	for c, w := range wantFalse {
		if got := acc.ConStats.At(0, falseIndex+c); got != w {
			t.Fatalf("false-side stats[%d] = %v, want %v", c, got, w)
		}
	}
}

func TestMergeAssociativity(t *testing.T) {
	catLevels := []int{2, 2}
	cat := [][]int32{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	ys := []float64{0, 0, 1, 1}

	build := func(rows []int) *TreeAccumulator {
		tree := NewDecisionTree(2, 0, false, Gini)
		acc := NewTreeAccumulator(0, catLevels, 0, tree.TreeDepth, 3, false)
		for _, i := range rows {
			acc.Accumulate(tree, cat[i], nil, ys[i], 1, nil)
		}
		return acc
	}

	first := build([]int{0, 1})
	first.Merge(build([]int{2, 3}))

	second := build([]int{0, 3})
	second.Merge(build([]int{1, 2}))

	if !mat.Equal(first.CatStats, second.CatStats) {
		t.Fatalf("cat stats differ across merge partitions")
	}
	if !mat.Equal(first.NodeStats, second.NodeStats) {
		t.Fatalf("node stats differ across merge partitions")
	}
	if first.NRows != second.NRows {
		t.Fatalf("row counts differ: %d vs %d", first.NRows, second.NRows)
	}
}

func TestNonFiniteResponseTerminates(t *testing.T) {
	tree := NewDecisionTree(2, 0, false, Gini)
	acc := NewTreeAccumulator(0, []int{2}, 0, tree.TreeDepth, 3, false)
	acc.Accumulate(tree, []int32{0}, nil, math.NaN(), 1, nil)
	if !acc.Terminated || acc.Err != ErrNonFiniteResponse {
		t.Fatalf("NaN response should poison the accumulator, got terminated=%v err=%v",
			acc.Terminated, acc.Err)
	}
	// further rows are ignored once poisoned
	acc.Accumulate(tree, []int32{0}, nil, 0, 1, nil)
	if acc.NRows != 0 {
		t.Fatalf("poisoned accumulator kept counting rows")
	}
}

func TestShapeMismatchTerminates(t *testing.T) {
	tree := NewDecisionTree(2, 0, false, Gini)
	acc := NewTreeAccumulator(0, []int{2}, 0, tree.TreeDepth, 3, false)
	acc.Accumulate(tree, []int32{0, 1}, nil, 0, 1, nil)
	if !acc.Terminated || acc.Err != ErrShapeMismatch {
		t.Fatalf("dimension drift should poison the accumulator")
	}
}

func TestMergeShapeMismatchTerminates(t *testing.T) {
	tree := NewDecisionTree(2, 0, false, Gini)
	a := NewTreeAccumulator(0, []int{2}, 0, tree.TreeDepth, 3, false)
	a.Accumulate(tree, []int32{0}, nil, 0, 1, nil)
	b := NewTreeAccumulator(0, []int{3}, 0, tree.TreeDepth, 3, false)
	b.Accumulate(tree, []int32{0}, nil, 0, 1, nil)
	a.Merge(b)
	if !a.Terminated || a.Err != ErrShapeMismatch {
		t.Fatalf("incompatible merge should poison the accumulator")
	}
}

func TestWeightsAsRows(t *testing.T) {
	tree := NewDecisionTree(0, 0, true, Gini)
	conSplits := mat.NewDense(1, 1, []float64{1.5})
	acc := NewTreeAccumulator(1, nil, 1, tree.TreeDepth, RegressionStats, true)
	acc.Accumulate(tree, nil, []float64{1}, 2, 2.6, conSplits)
	// weights_as_rows rounds the weight into the row-count cell
	if got := acc.NodeStats.At(0, 3); got != 3 {
		t.Fatalf("row-count cell = %v, want 3", got)
	}
	if got := acc.NodeStats.At(0, 0); got != 2.6 {
		t.Fatalf("weight cell = %v, want 2.6", got)
	}
}

func TestNullFeatureSkipsCandidateStats(t *testing.T) {
	tree := NewDecisionTree(2, 0, false, Gini)
	acc := NewTreeAccumulator(0, []int{2, 2}, 0, tree.TreeDepth, 3, false)
	acc.Accumulate(tree, []int32{-1, 1}, nil, 0, 1, nil)

	// candidate stats for the null feature stay empty
	for v := 0; v < 2; v++ {
		for _, side := range []bool{true, false} {
			if got := acc.CatStats.At(0, acc.indexCatStats(0, v, side)+2); got != 0 {
				t.Fatalf("null feature contributed to candidate stats")
			}
		}
	}
	// but the node stats and the non-null feature still see the row
	if got := acc.NodeStats.At(0, 2); got != 1 {
		t.Fatalf("node stats missed the row, count = %v", got)
	}
	if got := acc.CatStats.At(0, acc.indexCatStats(1, 1, true)+2); got != 1 {
		t.Fatalf("non-null feature missed the row")
	}
}
