package dtl

import (
	"errors"
	"log"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

//TrainParams collects the knobs for one tree training run.
type TrainParams struct {
	Impurity     ImpurityType
	IsRegression bool
	//NYLabels is the class count; ignored for regression.
	NYLabels  uint16
	MinSplit  uint16
	MinBucket uint16
	//MaxDepth counts the root as depth 0.
	MaxDepth uint16
	MaxNSurr uint16
	//NRandomFeatures > 0 switches to the random-subspace expander.
	NRandomFeatures int
	WeightsAsRows   bool
	//NumShards is the number of accumulator shards per pass; the shards
	//run on a worker pool and merge before expansion.
	NumShards     int
	PurityEpsilon float64
	IsNull        NullFunc
	Rand          UniformSource
}

//Train grows a tree level by level: a primary statistics pass over the
//rows, an expansion, and, when the tree grew and surrogates are wanted,
//a surrogate pass plus surrogate selection for the new internal layer.
//The loop stops when the expander reports training finished; the frozen
//tree is returned.
func Train(params TrainParams, dm *DMatrix, catLevels []int, conSplits *mat.Dense) (*DecisionTree, error) {
	nCat, nCon, err := dm.validatedDimensions()
	if err != nil {
		return nil, err
	}
	if nCat != len(catLevels) {
		return nil, errors.New("cat levels do not match the categorical width")
	}
	nBins := 0
	if nCon > 0 {
		if conSplits == nil {
			return nil, errors.New("continuous features require split boundaries")
		}
		splitRows, splitCols := conSplits.Dims()
		if splitRows != nCon {
			return nil, errors.New("split boundaries do not match the continuous width")
		}
		nBins = splitCols
	}
	if params.MinSplit < 1 {
		return nil, errors.New("min split must be at least 1")
	}
	if !params.IsRegression && params.NYLabels < 2 {
		return nil, errors.New("classification needs at least two labels")
	}
	impurity := params.Impurity
	if impurity == 0 {
		impurity = Gini
	}
	nShards := params.NumShards
	if nShards < 1 {
		nShards = 1
	}
	rng := params.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano())))
	}

	tree := NewDecisionTree(params.NYLabels, params.MaxNSurr, params.IsRegression, impurity)
	if params.PurityEpsilon > 0 {
		tree.PurityEpsilon = params.PurityEpsilon
	}
	if params.IsNull != nil {
		tree.IsNull = params.IsNull
	}

	statsPerSplit := RegressionStats
	if !params.IsRegression {
		statsPerSplit = int(params.NYLabels) + 1
	}

	for pass := 1; ; pass++ {
		acc := runPrimaryPass(tree, dm, catLevels, conSplits, nBins, nCon, statsPerSplit,
			params.WeightsAsRows, nShards)
		if acc.Terminated {
			return nil, acc.Err
		}

		depthBefore := tree.TreeDepth
		var finished bool
		if params.NRandomFeatures > 0 {
			finished = tree.ExpandBySampling(acc, conSplits, params.MinSplit,
				params.MinBucket, params.MaxDepth, params.NRandomFeatures, rng)
		} else {
			finished = tree.Expand(acc, conSplits, params.MinSplit,
				params.MinBucket, params.MaxDepth)
		}

		if params.MaxNSurr > 0 && tree.TreeDepth > depthBefore {
			surrAcc := runSurrogatePass(tree, dm, catLevels, conSplits, nBins, nCon, nShards)
			tree.PickSurrogates(surrAcc, conSplits)
		}

		log.Printf("pass %d: depth %d, %d rows", pass, tree.TreeDepth, acc.NRows)
		if finished {
			break
		}
	}
	return tree, nil
}

//runPrimaryPass shards the rows across accumulators on a worker pool
//and merges them; merge order does not affect the result.
func runPrimaryPass(tree *DecisionTree, dm *DMatrix, catLevels []int, conSplits *mat.Dense,
	nBins, nCon, statsPerSplit int, weightsAsRows bool, nShards int) *TreeAccumulator {

	n := dm.NRows()
	accs := make([]*TreeAccumulator, nShards)
	taskPool := NewPool(nShards)
	for s := range accs {
		accs[s] = NewTreeAccumulator(nBins, catLevels, nCon, tree.TreeDepth,
			statsPerSplit, weightsAsRows)
		shard := s
		taskPool.AddTask(&TaskAccumulateShard{acc: accs[s], feed: func(acc *TreeAccumulator) {
			for i := shard; i < n; i += nShards {
				acc.Accumulate(tree, dm.CatRow(i), dm.ConRow(i),
					dm.ResponseAt(i), dm.WeightAt(i), conSplits)
			}
		}})
	}
	taskPool.Close()
	taskPool.WaitAll()

	merged := accs[0]
	for _, other := range accs[1:] {
		merged.Merge(other)
	}
	return merged
}

//runSurrogatePass repeats the sharded pass in surrogate mode, sized for
//the parents of the newest leaves.
func runSurrogatePass(tree *DecisionTree, dm *DMatrix, catLevels []int, conSplits *mat.Dense,
	nBins, nCon, nShards int) *TreeAccumulator {

	n := dm.NRows()
	accs := make([]*TreeAccumulator, nShards)
	taskPool := NewPool(nShards)
	for s := range accs {
		accs[s] = NewTreeAccumulator(nBins, catLevels, nCon, tree.TreeDepth-1,
			SurrStatsPerSplit, false)
		shard := s
		taskPool.AddTask(&TaskAccumulateShard{acc: accs[s], feed: func(acc *TreeAccumulator) {
			for i := shard; i < n; i += nShards {
				acc.AccumulateSurrogate(tree, dm.CatRow(i), dm.ConRow(i),
					dm.DupCountAt(i), conSplits)
			}
		}})
	}
	taskPool.Close()
	taskPool.WaitAll()

	merged := accs[0]
	for _, other := range accs[1:] {
		merged.Merge(other)
	}
	return merged
}
