package dtl

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestPureSplitClassification(t *testing.T) {
	tree := buildPureSplitTree(t, 0)

	for _, child := range []int{1, 2} {
		if tree.FeatureIndices[child] != FinishedLeaf {
			t.Fatalf("child %d = %d, want FinishedLeaf", child, tree.FeatureIndices[child])
		}
	}
	trueRow := tree.predRow(1)
	falseRow := tree.predRow(2)
	if trueRow[0] != 2 || trueRow[1] != 0 || trueRow[2] != 2 {
		t.Fatalf("true child stats = %v, want [2 0 2]", trueRow)
	}
	if falseRow[0] != 0 || falseRow[1] != 2 || falseRow[2] != 2 {
		t.Fatalf("false child stats = %v, want [0 2 2]", falseRow)
	}
	if tree.NonNullSplitCount[0] != 2 || tree.NonNullSplitCount[1] != 2 {
		t.Fatalf("non-null split counts = %v, want [2 2]",
			tree.NonNullSplitCount[:2])
	}
	if got := tree.PredictResponse([]int32{0, 1}, nil); got != 0 {
		t.Fatalf("prediction for c0=0 = %v, want 0", got)
	}
	if got := tree.PredictResponse([]int32{1, 0}, nil); got != 1 {
		t.Fatalf("prediction for c0=1 = %v, want 1", got)
	}
}

func regressionPass(tree *DecisionTree, xs, ys []float64, conSplits *mat.Dense) *TreeAccumulator {
	_, nBins := conSplits.Dims()
	acc := NewTreeAccumulator(nBins, nil, 1, tree.TreeDepth, RegressionStats, false)
	for i := range xs {
		acc.Accumulate(tree, nil, []float64{xs[i]}, ys[i], 1, conSplits)
	}
	return acc
}

func TestRegressionVarianceGain(t *testing.T) {
	tree := NewDecisionTree(0, 0, true, Gini)
	conSplits := mat.NewDense(1, 2, []float64{1.5, 2.5})
	acc := regressionPass(tree, []float64{1, 2, 3}, []float64{1, 2, 5}, conSplits)

	finished := tree.Expand(acc, conSplits, 2, 0, 5)

	if tree.FeatureIndices[0] != 0 || tree.IsCategorical[0] != 0 {
		t.Fatalf("root split = (%d, cat=%d), want continuous feature 0",
			tree.FeatureIndices[0], tree.IsCategorical[0])
	}
	if tree.FeatureThresholds[0] != 2.5 {
		t.Fatalf("threshold = %v, want 2.5", tree.FeatureThresholds[0])
	}
	wantTrue := []float64{2, 3, 5, 2}
	wantFalse := []float64{1, 5, 25, 1}
	for c := range wantTrue {
		if tree.predRow(1)[c] != wantTrue[c] {
			t.Fatalf("true child stats = %v, want %v", tree.predRow(1), wantTrue)
		}
		if tree.predRow(2)[c] != wantFalse[c] {
			t.Fatalf("false child stats = %v, want %v", tree.predRow(2), wantFalse)
		}
	}
	if finished {
		t.Fatalf("non-pure children should keep training alive")
	}
}

func TestEqualGainTieBreak(t *testing.T) {
	// y = x makes thresholds 1.5 and 2.5 tie exactly; the first
	// candidate in scan order must win
	tree := NewDecisionTree(0, 0, true, Gini)
	conSplits := mat.NewDense(1, 2, []float64{1.5, 2.5})
	acc := regressionPass(tree, []float64{1, 2, 3}, []float64{1, 2, 3}, conSplits)

	tree.Expand(acc, conSplits, 2, 0, 5)

	if tree.FeatureThresholds[0] != 1.5 {
		t.Fatalf("tie broke to %v, want the first candidate 1.5", tree.FeatureThresholds[0])
	}
}

func TestMinBucketRejection(t *testing.T) {
	tree := NewDecisionTree(0, 0, true, Gini)
	conSplits := mat.NewDense(1, 2, []float64{1.5, 2.5})
	acc := regressionPass(tree, []float64{1, 2, 3}, []float64{1, 2, 5}, conSplits)

	finished := tree.Expand(acc, conSplits, 2, 2, 5)

	if !finished {
		t.Fatalf("rejected split should finish training")
	}
	if tree.FeatureIndices[0] != FinishedLeaf {
		t.Fatalf("root = %d, want FinishedLeaf", tree.FeatureIndices[0])
	}
	if tree.TreeDepth != 1 {
		t.Fatalf("depth = %d, want 1", tree.TreeDepth)
	}
}

func TestMaxDepthStopsTraining(t *testing.T) {
	// an alternating response keeps every split informative, so only
	// the depth bound can end training
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	ys := []float64{5, 1, 4, 2, 8, 3, 9, 2}
	conSplits := mat.NewDense(1, 7, []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5})

	tree := NewDecisionTree(0, 0, true, Gini)
	maxDepth := uint16(2)
	passes := 0
	for {
		passes++
		if passes > 10 {
			t.Fatalf("training did not terminate")
		}
		acc := regressionPass(tree, xs, ys, conSplits)
		if tree.Expand(acc, conSplits, 2, 1, maxDepth) {
			break
		}
	}
	if tree.TreeDepth > maxDepth+1 {
		t.Fatalf("depth = %d exceeds the bound", tree.TreeDepth)
	}
	for i, fi := range tree.FeatureIndices {
		if fi == InProcessLeaf {
			t.Fatalf("node %d still in process after training finished", i)
		}
	}
}

func TestExpandKeepsHeapInvariant(t *testing.T) {
	tree := buildPureSplitTree(t, 0)
	for i := range tree.FeatureIndices {
		if tree.FeatureIndices[i] >= 0 {
			tc, fc := tree.TrueChild(i), tree.FalseChild(i)
			if tree.FeatureIndices[tc] == NodeNonExisting ||
				tree.FeatureIndices[fc] == NodeNonExisting {
				t.Fatalf("internal node %d has a non-existing child", i)
			}
		}
	}
}
