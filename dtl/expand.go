package dtl

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

//bestSplit tracks the winning candidate while scanning a leaf's stats.
//Feature indices are type-local: a categorical winner stores its
//categorical index, a continuous winner its continuous index.
type bestSplit struct {
	feat  int
	bin   int
	isCat bool
	gain  float64
	stats []float64
}

//consider updates the running maximum. Strict improvement only, so the
//first candidate in scan order wins ties.
func (b *bestSplit) consider(gain float64, feat, bin int, isCat bool, stats []float64) {
	if gain > b.gain {
		b.gain = gain
		b.feat = feat
		b.bin = bin
		b.isCat = isCat
		b.stats = append(b.stats[:0], stats...)
	}
}

//shouldSplit admits a candidate split: both children must receive at
//least max(1, minBucket) rows, together at least minSplit rows, and the
//tree must not already be at maxDepth. Counts are unweighted.
func (dt *DecisionTree) shouldSplit(combinedStats []float64, minSplit, minBucket uint16,
	statsPerSplit int, maxDepth uint16) bool {

	threshMinBucket := uint64(minBucket)
	if threshMinBucket == 0 {
		threshMinBucket = 1
	}
	trueCount := statCount(combinedStats[:statsPerSplit])
	falseCount := statCount(combinedStats[statsPerSplit : 2*statsPerSplit])
	return trueCount+falseCount >= uint64(minSplit) &&
		trueCount >= threshMinBucket &&
		falseCount >= threshMinBucket &&
		dt.TreeDepth <= maxDepth
}

//updatePrimarySplit commits a chosen split: the node gets its test, both
//children become in-process leaves carrying the split-side stats, and
//the non-null branch counts are recorded for the majority fallback.
//Returns whether neither child can usefully split again (both pure and
//below minSplit), which feeds the early-termination signal.
func (dt *DecisionTree) updatePrimarySplit(nodeIndex, maxFeat int, maxThreshold float64,
	maxIsCat bool, minSplit uint16, trueStats, falseStats []float64) bool {

	dt.FeatureIndices[nodeIndex] = int32(maxFeat)
	if maxIsCat {
		dt.IsCategorical[nodeIndex] = 1
	} else {
		dt.IsCategorical[nodeIndex] = 0
	}
	dt.FeatureThresholds[nodeIndex] = maxThreshold

	dt.FeatureIndices[dt.TrueChild(nodeIndex)] = InProcessLeaf
	dt.Predictions.SetRow(dt.TrueChild(nodeIndex), trueStats)
	dt.FeatureIndices[dt.FalseChild(nodeIndex)] = InProcessLeaf
	dt.Predictions.SetRow(dt.FalseChild(nodeIndex), falseStats)

	// trueStats and falseStats only cover rows whose primary feature is
	// non-null; these counts seed the majority branch used by surrogates
	trueCount := statCount(trueStats)
	falseCount := statCount(falseStats)
	dt.NonNullSplitCount[nodeIndex*2] = float64(trueCount)
	dt.NonNullSplitCount[nodeIndex*2+1] = float64(falseCount)

	return dt.isChildPure(trueStats) &&
		dt.isChildPure(falseStats) &&
		trueCount < uint64(minSplit) &&
		falseCount < uint64(minSplit)
}

//finalizeLeaves promotes every remaining in-process leaf to finished.
func (dt *DecisionTree) finalizeLeaves() {
	for i := range dt.FeatureIndices {
		if dt.FeatureIndices[i] == InProcessLeaf {
			dt.FeatureIndices[i] = FinishedLeaf
		}
	}
}

//Expand consumes one completed primary pass and deepens the tree by at
//most one level, scanning every categorical (feature, level) and
//continuous (feature, bin) candidate for each in-process leaf.
//Returns true when training is finished: nothing split, the depth bound
//was reached, or no admitted child can split further.
func (dt *DecisionTree) Expand(state *TreeAccumulator, conSplits *mat.Dense,
	minSplit, minBucket, maxDepth uint16) bool {

	nNonLeafNodes := int(state.NLeafNodes) - 1
	childrenNotAllocated := true
	childrenWontSplit := true
	sps := int(state.StatsPerSplit)

	for i := 0; i < int(state.NLeafNodes); i++ {
		current := nNonLeafNodes + i
		if dt.FeatureIndices[current] != InProcessLeaf {
			continue
		}
		// 1. the node's own prediction comes from all rows that landed on it
		dt.Predictions.SetRow(current, state.NodeStats.RawRowView(i))

		// 2. scan all candidates, categorical first
		best := bestSplit{feat: -1, bin: -1, gain: math.Inf(-1)}
		cumsum := 0
		for f := 0; f < int(state.NCatFeatures); f++ {
			for v := 0; cumsum < state.CatLevelsCumsum[f]; v, cumsum = v+1, cumsum+1 {
				fvIndex := state.indexCatStats(f, v, true)
				seg := state.CatStats.RawRowView(i)[fvIndex : fvIndex+sps*2]
				best.consider(dt.impurityGain(seg, sps), f, v, true, seg)
			}
		}
		for f := 0; f < int(state.NConFeatures); f++ {
			for b := 0; b < int(state.NBins); b++ {
				fbIndex := state.indexConStats(f, b, true)
				seg := state.ConStats.RawRowView(i)[fbIndex : fbIndex+sps*2]
				best.consider(dt.impurityGain(seg, sps), f, b, false, seg)
			}
		}

		// 3. commit the winner or retire the leaf
		if best.gain > 0 && dt.shouldSplit(best.stats, minSplit, minBucket, sps, maxDepth) {
			var maxThreshold float64
			if best.isCat {
				maxThreshold = float64(best.bin)
			} else {
				maxThreshold = conSplits.At(best.feat, best.bin)
			}
			if childrenNotAllocated {
				dt.GrowOneLevel()
				childrenNotAllocated = false
			}
			wontSplit := dt.updatePrimarySplit(current, best.feat, maxThreshold,
				best.isCat, minSplit, best.stats[:sps], best.stats[sps:sps*2])
			childrenWontSplit = childrenWontSplit && wontSplit
		} else {
			dt.FeatureIndices[current] = FinishedLeaf
		}
	}

	// tree_depth is 1-based internally while max_depth counts the root
	// as depth 0, hence the +1
	trainingFinished := childrenNotAllocated ||
		dt.TreeDepth >= maxDepth+1 ||
		childrenWontSplit
	if trainingFinished {
		dt.finalizeLeaves()
	}
	return trainingFinished
}

//ExpandBySampling is the random-subspace variant: for each in-process
//leaf the combined feature index list is shuffled with the injected
//stream and only the first nRandomFeatures features are scanned.
func (dt *DecisionTree) ExpandBySampling(state *TreeAccumulator, conSplits *mat.Dense,
	minSplit, minBucket, maxDepth uint16, nRandomFeatures int, rng UniformSource) bool {

	nNonLeafNodes := int(state.NLeafNodes) - 1
	childrenNotAllocated := true
	childrenWontSplit := true
	sps := int(state.StatsPerSplit)

	totalFeatures := int(state.NCatFeatures) + int(state.NConFeatures)
	featureIndices := make([]int, totalFeatures)
	if nRandomFeatures > totalFeatures {
		nRandomFeatures = totalFeatures
	}

	for i := 0; i < int(state.NLeafNodes); i++ {
		current := nNonLeafNodes + i
		if dt.FeatureIndices[current] != InProcessLeaf {
			continue
		}
		dt.Predictions.SetRow(current, state.NodeStats.RawRowView(i))

		for j := range featureIndices {
			featureIndices[j] = j
		}
		shuffleInts(featureIndices, rng)

		best := bestSplit{feat: -1, bin: -1, gain: math.Inf(-1)}
		for index := 0; index < nRandomFeatures; index++ {
			f := featureIndices[index]
			if f < int(state.NCatFeatures) {
				for v := 0; v < state.CatLevels[f]; v++ {
					fvIndex := state.indexCatStats(f, v, true)
					seg := state.CatStats.RawRowView(i)[fvIndex : fvIndex+sps*2]
					best.consider(dt.impurityGain(seg, sps), f, v, true, seg)
				}
			} else {
				// continuous indices are re-based to the type-local
				// convention shared with the exhaustive path
				f -= int(state.NCatFeatures)
				for b := 0; b < int(state.NBins); b++ {
					fbIndex := state.indexConStats(f, b, true)
					seg := state.ConStats.RawRowView(i)[fbIndex : fbIndex+sps*2]
					best.consider(dt.impurityGain(seg, sps), f, b, false, seg)
				}
			}
		}

		if best.gain > 0 && dt.shouldSplit(best.stats, minSplit, minBucket, sps, maxDepth) {
			var maxThreshold float64
			if best.isCat {
				maxThreshold = float64(best.bin)
			} else {
				maxThreshold = conSplits.At(best.feat, best.bin)
			}
			if childrenNotAllocated {
				dt.GrowOneLevel()
				childrenNotAllocated = false
			}
			wontSplit := dt.updatePrimarySplit(current, best.feat, maxThreshold,
				best.isCat, minSplit, best.stats[:sps], best.stats[sps:sps*2])
			childrenWontSplit = childrenWontSplit && wontSplit
		} else {
			dt.FeatureIndices[current] = FinishedLeaf
		}
	}

	trainingFinished := childrenNotAllocated ||
		dt.TreeDepth >= maxDepth+1 ||
		childrenWontSplit
	if trainingFinished {
		dt.finalizeLeaves()
	}
	return trainingFinished
}
