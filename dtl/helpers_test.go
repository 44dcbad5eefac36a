package dtl

import "testing"

//classificationPass feeds the rows through a fresh primary-pass
//accumulator sized for the tree's current depth.
func classificationPass(tree *DecisionTree, cat [][]int32, ys []float64, catLevels []int) *TreeAccumulator {
	acc := NewTreeAccumulator(0, catLevels, 0, tree.TreeDepth, int(tree.NYLabels)+1, false)
	for i := range cat {
		acc.Accumulate(tree, cat[i], nil, ys[i], 1, nil)
	}
	return acc
}

//buildPureSplitTree trains a root split on a binary feature c0 that
//determines the class exactly; c1 is uninformative noise.
func buildPureSplitTree(t *testing.T, maxNSurr uint16) *DecisionTree {
	tree := NewDecisionTree(2, maxNSurr, false, Gini)
	cat := [][]int32{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	ys := []float64{0, 0, 1, 1}
	acc := classificationPass(tree, cat, ys, []int{2, 2})
	if finished := tree.Expand(acc, nil, 4, 0, 5); !finished {
		t.Fatalf("pure split should finish training in one expansion")
	}
	if tree.FeatureIndices[0] != 0 || tree.IsCategorical[0] != 1 || tree.FeatureThresholds[0] != 0 {
		t.Fatalf("root split = (%d, cat=%d, %v), want (0, cat=1, 0)",
			tree.FeatureIndices[0], tree.IsCategorical[0], tree.FeatureThresholds[0])
	}
	return tree
}

//buildSurrogateTree trains the same root split with c1 mirroring c0 on
//every row, then runs a surrogate pass so c1 becomes the surrogate.
func buildSurrogateTree(t *testing.T) *DecisionTree {
	tree := NewDecisionTree(2, 2, false, Gini)
	catLevels := []int{2, 2}
	cat := [][]int32{{0, 0}, {0, 0}, {1, 1}, {1, 1}}
	ys := []float64{0, 0, 1, 1}

	acc := classificationPass(tree, cat, ys, catLevels)
	if finished := tree.Expand(acc, nil, 4, 0, 5); !finished {
		t.Fatalf("pure split should finish training in one expansion")
	}

	surrAcc := NewTreeAccumulator(0, catLevels, 0, tree.TreeDepth-1, SurrStatsPerSplit, false)
	for i := range cat {
		surrAcc.AccumulateSurrogate(tree, cat[i], nil, 1, nil)
	}
	tree.PickSurrogates(surrAcc, nil)
	return tree
}
