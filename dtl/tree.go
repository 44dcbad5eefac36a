package dtl

import (
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

//Sentinel codes stored in FeatureIndices. Any value >= 0 is the feature
//index of a real split; the sentinels mark the three leaf-like states.
const (
	NodeNonExisting int32 = -1
	InProcessLeaf   int32 = -2
	FinishedLeaf    int32 = -3
	SurrNonExisting int32 = -1
)

//ImpurityType selects the classification impurity measure. Regression
//always uses variance.
type ImpurityType uint8

const (
	Gini ImpurityType = iota + 1
	Entropy
	Misclass
)

//RegressionStats is the width of a regression statistics vector:
//(sum of weights, weighted response sum, weighted squared response sum,
//unweighted row count).
const RegressionStats = 4

//DefaultPurityEpsilon is the threshold under which a child's response
//distribution counts as pure for the early-stop signal.
const DefaultPurityEpsilon = 1e-5

//NullFunc reports whether a feature value encodes a missing observation.
//The engine never decides this itself; the policy is supplied by the caller.
type NullFunc func(value float64, isCat bool) bool

//DefaultIsNull treats negative categorical codes and NaN continuous
//values as missing.
func DefaultIsNull(value float64, isCat bool) bool {
	if isCat {
		return value < 0
	}
	return math.IsNaN(value)
}

//DecisionTree is a binary tree stored as parallel flat arrays of length
//2^TreeDepth - 1, indexed as a left-balanced heap: node i has the true
//branch at 2i+1 and the false branch at 2i+2. All levels are fully
//allocated; unused slots carry NodeNonExisting.
type DecisionTree struct {
	TreeDepth    uint16
	NYLabels     uint16
	MaxNSurr     uint16
	IsRegression bool
	Impurity     ImpurityType

	FeatureIndices    []int32
	FeatureThresholds []float64
	IsCategorical     []uint8
	NonNullSplitCount []float64

	SurrIndices    []int32
	SurrThresholds []float64
	SurrStatus     []int32
	SurrAgreement  []int32

	Predictions *mat.Dense

	IsNull        NullFunc
	PurityEpsilon float64
}

//NewDecisionTree returns a one-node tree whose root is scheduled for
//expansion. For regression nYLabels is ignored and the statistics width
//is used instead.
func NewDecisionTree(nYLabels, maxNSurr uint16, isRegression bool, impurity ImpurityType) *DecisionTree {
	dt := &DecisionTree{
		NYLabels:      nYLabels,
		MaxNSurr:      maxNSurr,
		IsRegression:  isRegression,
		Impurity:      impurity,
		IsNull:        DefaultIsNull,
		PurityEpsilon: DefaultPurityEpsilon,
	}
	if isRegression {
		dt.NYLabels = RegressionStats
	}
	dt.Rebind(1, dt.NYLabels, maxNSurr, isRegression)
	dt.FeatureIndices[0] = InProcessLeaf
	return dt
}

//nLabelCols is the width of one predictions row. Classification rows
//carry the unweighted row count in an extra trailing cell.
func (dt *DecisionTree) nLabelCols() int {
	if dt.IsRegression {
		return int(dt.NYLabels)
	}
	return int(dt.NYLabels) + 1
}

//NNodes returns the allocated node capacity, 2^TreeDepth - 1.
func (dt *DecisionTree) NNodes() int {
	return (1 << dt.TreeDepth) - 1
}

//Rebind resizes the tree to exact capacity for the given depth. Content
//is reset: feature indices to NodeNonExisting, surrogates to
//SurrNonExisting, everything else to zero.
func (dt *DecisionTree) Rebind(treeDepth, nYLabels, maxNSurr uint16, isRegression bool) {
	dt.TreeDepth = treeDepth
	dt.NYLabels = nYLabels
	dt.MaxNSurr = maxNSurr
	dt.IsRegression = isRegression

	nNodes := dt.NNodes()
	dt.FeatureIndices = make([]int32, nNodes)
	dt.FeatureThresholds = make([]float64, nNodes)
	dt.IsCategorical = make([]uint8, nNodes)
	dt.NonNullSplitCount = make([]float64, 2*nNodes)
	dt.SurrIndices = make([]int32, nNodes*int(maxNSurr))
	dt.SurrThresholds = make([]float64, nNodes*int(maxNSurr))
	dt.SurrStatus = make([]int32, nNodes*int(maxNSurr))
	dt.SurrAgreement = make([]int32, nNodes*int(maxNSurr))
	dt.Predictions = mat.NewDense(nNodes, dt.nLabelCols(), nil)

	for i := range dt.FeatureIndices {
		dt.FeatureIndices[i] = NodeNonExisting
	}
	for i := range dt.SurrIndices {
		dt.SurrIndices[i] = SurrNonExisting
	}
	if dt.IsNull == nil {
		dt.IsNull = DefaultIsNull
	}
	if dt.PurityEpsilon == 0 {
		dt.PurityEpsilon = DefaultPurityEpsilon
	}
}

//GrowOneLevel deepens the tree by one level: the old arrays occupy the
//low half of the reallocated storage and every new slot starts as
//NodeNonExisting. Parents mark their children IN_PROCESS during expansion.
func (dt *DecisionTree) GrowOneLevel() {
	nOrig := dt.NNodes()
	orig := *dt
	dt.Rebind(dt.TreeDepth+1, dt.NYLabels, dt.MaxNSurr, dt.IsRegression)

	copy(dt.FeatureIndices, orig.FeatureIndices)
	copy(dt.FeatureThresholds, orig.FeatureThresholds)
	copy(dt.IsCategorical, orig.IsCategorical)
	copy(dt.NonNullSplitCount, orig.NonNullSplitCount)
	copy(dt.SurrIndices, orig.SurrIndices)
	copy(dt.SurrThresholds, orig.SurrThresholds)
	copy(dt.SurrStatus, orig.SurrStatus)
	copy(dt.SurrAgreement, orig.SurrAgreement)
	for i := 0; i < nOrig; i++ {
		dt.Predictions.SetRow(i, orig.Predictions.RawRowView(i))
	}
}

//TrueChild returns the child taken when the node's test holds.
func (dt *DecisionTree) TrueChild(i int) int { return 2*i + 1 }

//FalseChild returns the child taken when the node's test fails.
func (dt *DecisionTree) FalseChild(i int) int { return 2*i + 2 }

//ParentIndex returns the parent of node i; the root is its own parent.
func (dt *DecisionTree) ParentIndex(i int) int { return (i - 1) / 2 }

//predRow exposes the stats vector stored for node i.
func (dt *DecisionTree) predRow(i int) []float64 {
	return dt.Predictions.RawRowView(i)
}

//MajorityCount returns the larger of the two non-null primary-split row
//counts at an internal node.
func (dt *DecisionTree) MajorityCount(nodeIndex int) uint64 {
	if dt.FeatureIndices[nodeIndex] < 0 {
		log.Panicf("requested count for a leaf/non-existing node %d", nodeIndex)
	}
	trueCount := uint64(dt.NonNullSplitCount[nodeIndex*2])
	falseCount := uint64(dt.NonNullSplitCount[nodeIndex*2+1])
	if trueCount >= falseCount {
		return trueCount
	}
	return falseCount
}

//MajoritySplit reports whether the true branch received at least as many
//non-null primary rows as the false branch.
func (dt *DecisionTree) MajoritySplit(nodeIndex int) bool {
	if dt.FeatureIndices[nodeIndex] < 0 {
		log.Panicf("requested count for a leaf/non-existing node %d", nodeIndex)
	}
	return dt.NonNullSplitCount[nodeIndex*2] >= dt.NonNullSplitCount[nodeIndex*2+1]
}

//getSurrSplit routes a row whose primary feature is missing: the stored
//surrogates are tried in order, and when none is usable the majority
//branch decides.
func (dt *DecisionTree) getSurrSplit(nodeIndex int, cat []int32, con []float64) bool {
	base := nodeIndex * int(dt.MaxNSurr)
	for s := base; s < base+int(dt.MaxNSurr); s++ {
		surrFeat := dt.SurrIndices[s]
		if surrFeat < 0 {
			break
		}
		threshold := dt.SurrThresholds[s]
		if abs32(dt.SurrStatus[s]) == 1 {
			if !dt.IsNull(float64(cat[surrFeat]), true) {
				response := float64(cat[surrFeat]) <= threshold
				// negative status is a reverse split (> relation)
				if dt.SurrStatus[s] > 0 {
					return response
				}
				return !response
			}
		} else {
			if !dt.IsNull(con[surrFeat], false) {
				response := con[surrFeat] <= threshold
				if dt.SurrStatus[s] > 0 {
					return response
				}
				return !response
			}
		}
	}
	return dt.MajoritySplit(nodeIndex)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

//Search walks the tree from the root and returns the index of the leaf
//slot the row lands on. The returned slot is always IN_PROCESS or
//FINISHED, never NodeNonExisting.
func (dt *DecisionTree) Search(cat []int32, con []float64) int {
	current := 0
	featureIndex := dt.FeatureIndices[current]
	for featureIndex != InProcessLeaf && featureIndex != FinishedLeaf {
		if featureIndex == NodeNonExisting {
			log.Panicf("search reached non-existing node %d", current)
		}
		var isSplitTrue bool
		if dt.IsCategorical[current] != 0 {
			if dt.IsNull(float64(cat[featureIndex]), true) {
				isSplitTrue = dt.getSurrSplit(current, cat, con)
			} else {
				isSplitTrue = float64(cat[featureIndex]) <= dt.FeatureThresholds[current]
			}
		} else {
			if dt.IsNull(con[featureIndex], false) {
				isSplitTrue = dt.getSurrSplit(current, cat, con)
			} else {
				isSplitTrue = con[featureIndex] <= dt.FeatureThresholds[current]
			}
		}
		if isSplitTrue {
			current = dt.TrueChild(current)
		} else {
			current = dt.FalseChild(current)
		}
		featureIndex = dt.FeatureIndices[current]
	}
	return current
}

//Predict returns the leaf prediction vector for a row: the mean response
//for regression, class proportions for classification.
func (dt *DecisionTree) Predict(cat []int32, con []float64) []float64 {
	leafIndex := dt.Search(cat, con)
	return dt.statPredict(dt.predRow(leafIndex))
}

//PredictResponse returns the scalar response for a row: the mean for
//regression, the argmax class for classification.
func (dt *DecisionTree) PredictResponse(cat []int32, con []float64) float64 {
	return dt.responseFromPrediction(dt.Predict(cat, con))
}

//PredictResponseAt returns the scalar response stored at a leaf slot.
func (dt *DecisionTree) PredictResponseAt(leafIndex int) float64 {
	return dt.responseFromPrediction(dt.statPredict(dt.predRow(leafIndex)))
}

func (dt *DecisionTree) responseFromPrediction(prediction []float64) float64 {
	if dt.IsRegression {
		return prediction[0]
	}
	maxLabel := 0
	for c := 1; c < len(prediction); c++ {
		if prediction[c] > prediction[maxLabel] {
			maxLabel = c
		}
	}
	return float64(maxLabel)
}

//NodeCount returns the number of rows that landed on a node.
func (dt *DecisionTree) NodeCount(nodeIndex int) uint64 {
	return statCount(dt.predRow(nodeIndex))
}

//NodeWeightedCount returns the weight-normalized row count of a node.
func (dt *DecisionTree) NodeWeightedCount(nodeIndex int) float64 {
	return dt.statWeightedCount(dt.predRow(nodeIndex))
}

//ComputeMisclassification returns the weighted count of rows a node
//would misclassify; zero for regression trees.
func (dt *DecisionTree) ComputeMisclassification(nodeIndex int) float64 {
	if dt.IsRegression {
		return 0
	}
	stats := dt.predRow(nodeIndex)[:dt.NYLabels]
	total, maxVal := 0.0, math.Inf(-1)
	for _, v := range stats {
		total += v
		if v > maxVal {
			maxVal = v
		}
	}
	return total - maxVal
}

//ComputeRisk returns, for regression, the weighted sum of squared
//deviations of the response from the node mean (the variance times the
//node's total weight), and the misclassification count for
//classification. Consumed by pruners.
func (dt *DecisionTree) ComputeRisk(nodeIndex int) float64 {
	if dt.IsRegression {
		row := dt.predRow(nodeIndex)
		wTot, yAvg, y2Avg := row[0], row[1], row[2]
		if wTot <= 0 {
			return 0
		}
		return y2Avg - yAvg*yAvg/wTot
	}
	return dt.ComputeMisclassification(nodeIndex)
}

//RecomputeTreeDepth scans levels top-down and returns the effective
//depth: the first fully non-existing level ends the tree.
func (dt *DecisionTree) RecomputeTreeDepth() uint16 {
	if len(dt.FeatureIndices) <= 1 || dt.TreeDepth <= 1 {
		return dt.TreeDepth
	}
	for depthCounter := uint16(2); depthCounter <= dt.TreeDepth; depthCounter++ {
		allNonExisting := true
		for level := NewLevelRange(depthCounter); level.HasNext(); {
			if dt.FeatureIndices[level.GetNext()] != NodeNonExisting {
				allNonExisting = false
				break
			}
		}
		if allNonExisting {
			return depthCounter - 1
		}
	}
	return dt.TreeDepth
}
