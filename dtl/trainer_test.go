package dtl

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func classificationDMatrix(t *testing.T, codes []int32, ys []float64) *DMatrix {
	dm, err := NewDMatrix(DenseInt32(len(ys), len(codes)/len(ys), codes), nil,
		mat.NewDense(len(ys), 1, ys), nil)
	if err != nil {
		t.Fatalf("dmatrix: %v", err)
	}
	return dm
}

func TestTrainClassification(t *testing.T) {
	dm := classificationDMatrix(t,
		[]int32{0, 0, 0, 1, 1, 0, 1, 1},
		[]float64{0, 0, 1, 1})

	tree, err := Train(TrainParams{
		Impurity: Gini,
		NYLabels: 2,
		MinSplit: 4,
		MaxDepth: 5,
	}, dm, []int{2, 2}, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	if tree.TreeDepth != 2 {
		t.Fatalf("depth = %d, want 2", tree.TreeDepth)
	}
	if tree.FeatureIndices[0] != 0 || tree.IsCategorical[0] != 1 {
		t.Fatalf("root split = (%d, cat=%d), want categorical feature 0",
			tree.FeatureIndices[0], tree.IsCategorical[0])
	}
	for i := 0; i < dm.NRows(); i++ {
		if got := tree.PredictResponse(dm.CatRow(i), nil); got != dm.ResponseAt(i) {
			t.Fatalf("prediction for row %d = %v, want %v", i, got, dm.ResponseAt(i))
		}
	}
}

func TestTrainShardingInvariance(t *testing.T) {
	codes := []int32{0, 0, 0, 1, 1, 0, 1, 1}
	ys := []float64{0, 0, 1, 1}

	run := func(shards int) *DecisionTree {
		tree, err := Train(TrainParams{
			Impurity:  Gini,
			NYLabels:  2,
			MinSplit:  4,
			MaxDepth:  5,
			NumShards: shards,
		}, classificationDMatrix(t, codes, ys), []int{2, 2}, nil)
		if err != nil {
			t.Fatalf("train with %d shards: %v", shards, err)
		}
		return tree
	}

	single := run(1)
	sharded := run(3)

	if single.TreeDepth != sharded.TreeDepth {
		t.Fatalf("depths differ: %d vs %d", single.TreeDepth, sharded.TreeDepth)
	}
	for i := range single.FeatureIndices {
		if single.FeatureIndices[i] != sharded.FeatureIndices[i] ||
			single.FeatureThresholds[i] != sharded.FeatureThresholds[i] {
			t.Fatalf("node %d differs between shard counts", i)
		}
	}
	if !mat.Equal(single.Predictions, sharded.Predictions) {
		t.Fatalf("predictions differ between shard counts")
	}
}

func TestTrainRegression(t *testing.T) {
	xs := []float64{1, 2, 3}
	ys := []float64{1, 2, 5}
	dm, err := NewDMatrix(nil, mat.NewDense(3, 1, xs), mat.NewDense(3, 1, ys), nil)
	if err != nil {
		t.Fatalf("dmatrix: %v", err)
	}
	conSplits := mat.NewDense(1, 2, []float64{1.5, 2.5})

	tree, err := Train(TrainParams{
		IsRegression: true,
		MinSplit:     2,
		MaxDepth:     3,
	}, dm, nil, conSplits)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	for i := range xs {
		if got := tree.PredictResponse(nil, []float64{xs[i]}); got != ys[i] {
			t.Fatalf("prediction for x=%v is %v, want %v", xs[i], got, ys[i])
		}
	}
}

func TestTrainWithSurrogates(t *testing.T) {
	dm := classificationDMatrix(t,
		[]int32{0, 0, 0, 0, 1, 1, 1, 1},
		[]float64{0, 0, 1, 1})

	tree, err := Train(TrainParams{
		Impurity: Gini,
		NYLabels: 2,
		MinSplit: 4,
		MaxDepth: 5,
		MaxNSurr: 2,
	}, dm, []int{2, 2}, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	if tree.SurrIndices[0] != 1 || tree.SurrStatus[0] != 1 || tree.SurrAgreement[0] != 4 {
		t.Fatalf("surrogate = (feature %d, status %d, agreement %d), want (1, 1, 4)",
			tree.SurrIndices[0], tree.SurrStatus[0], tree.SurrAgreement[0])
	}
	if got := tree.PredictResponse([]int32{-1, 1}, nil); got != 1 {
		t.Fatalf("surrogate prediction = %v, want 1", got)
	}
}

func TestTrainRejectsBadConfig(t *testing.T) {
	dm := classificationDMatrix(t, []int32{0, 1}, []float64{0, 1})
	if _, err := Train(TrainParams{NYLabels: 2, MinSplit: 0}, dm, []int{2}, nil); err == nil {
		t.Fatalf("min split 0 should be rejected")
	}
	if _, err := Train(TrainParams{NYLabels: 1, MinSplit: 1}, dm, []int{2}, nil); err == nil {
		t.Fatalf("single-class classification should be rejected")
	}
	if _, err := Train(TrainParams{NYLabels: 2, MinSplit: 1}, dm, []int{2, 2}, nil); err == nil {
		t.Fatalf("cat levels mismatch should be rejected")
	}
}

func TestTrainTerminatesOnPoisonedPass(t *testing.T) {
	dm, err := NewDMatrix(DenseInt32(2, 1, []int32{0, 1}), nil,
		mat.NewDense(2, 1, []float64{0, math.Inf(1)}), nil)
	if err != nil {
		t.Fatalf("dmatrix: %v", err)
	}
	if _, err := Train(TrainParams{NYLabels: 2, MinSplit: 1, MaxDepth: 2}, dm, []int{2}, nil); err == nil {
		t.Fatalf("non-finite response should abort training")
	}
}
