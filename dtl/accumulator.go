package dtl

import (
	"errors"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

//SurrStatsPerSplit is the stats width in surrogate mode: one cell for
//rows agreeing with the primary decision, one for rows disagreeing.
const SurrStatsPerSplit = 2

//MaxFeatures bounds the combined categorical+continuous feature count.
const MaxFeatures = 65535

var (
	ErrNonFiniteResponse    = errors.New("decision tree response variable values are not finite")
	ErrOverwideFeatureSpace = errors.New("number of independent variables cannot be larger than 65535")
	ErrShapeMismatch        = errors.New("inconsistent feature dimensions")
)

//TreeAccumulator streams rows against a fixed tree and collects
//per-leaf, per-candidate-split sufficient statistics. Accumulators built
//over disjoint row shards merge by element-wise addition, so any shard
//topology yields the same matrices as a single pass.
//
//Validation failures poison the whole accumulator (Terminated) instead
//of skipping rows: partial statistics would silently bias split selection.
type TreeAccumulator struct {
	NRows      uint64
	Terminated bool
	Err        error

	NBins           uint16
	NCatFeatures    uint16
	NConFeatures    uint16
	TotalNCatLevels uint32
	NLeafNodes      uint16
	StatsPerSplit   uint16
	WeightsAsRows   bool

	CatLevels []int
	//CatLevelsCumsum is the inclusive prefix sum of CatLevels; the
	//exclusive form used by the column index is cumsum[f-1].
	CatLevelsCumsum []int

	//CatStats is n_leaves x (total_levels * sps * 2), ConStats is
	//n_leaves x (n_con * n_bins * sps * 2), NodeStats is n_leaves x sps.
	//A block stays nil when its feature kind is absent.
	CatStats  *mat.Dense
	ConStats  *mat.Dense
	NodeStats *mat.Dense
}

//NewTreeAccumulator sizes an accumulator for one pass over the leaves of
//a tree of the given depth. statsPerSplit is the response stats width
//for the primary pass and SurrStatsPerSplit for the surrogate pass.
func NewTreeAccumulator(nBins int, catLevels []int, nConFeatures int,
	treeDepth uint16, statsPerSplit int, weightsAsRows bool) *TreeAccumulator {

	acc := &TreeAccumulator{
		NBins:         uint16(nBins),
		NCatFeatures:  uint16(len(catLevels)),
		NConFeatures:  uint16(nConFeatures),
		StatsPerSplit: uint16(statsPerSplit),
		WeightsAsRows: weightsAsRows,
		CatLevels:     catLevels,
	}

	totalLevels := 0
	acc.CatLevelsCumsum = make([]int, len(catLevels))
	for f, n := range catLevels {
		totalLevels += n
		acc.CatLevelsCumsum[f] = totalLevels
	}
	acc.TotalNCatLevels = uint32(totalLevels)

	if treeDepth > 0 {
		acc.NLeafNodes = uint16(1 << (treeDepth - 1))
	} else {
		acc.NLeafNodes = 1
	}

	nLeaves := int(acc.NLeafNodes)
	if totalLevels > 0 {
		acc.CatStats = mat.NewDense(nLeaves, totalLevels*statsPerSplit*2, nil)
	}
	if nConFeatures > 0 && nBins > 0 {
		acc.ConStats = mat.NewDense(nLeaves, nConFeatures*nBins*statsPerSplit*2, nil)
	}
	acc.NodeStats = mat.NewDense(nLeaves, statsPerSplit, nil)
	return acc
}

//terminate poisons the accumulator for the rest of the pass.
func (acc *TreeAccumulator) terminate(err error) {
	log.Print("warning: ", err)
	acc.Terminated = true
	acc.Err = err
}

//indexConStats returns the column of the stats cell for continuous
//feature f, bin b, on the true (is_split_true) or false side.
func (acc *TreeAccumulator) indexConStats(featureIndex, binIndex int, isSplitTrue bool) int {
	return acc.computeSubIndex(featureIndex*int(acc.NBins), binIndex, isSplitTrue)
}

//indexCatStats returns the column of the stats cell for categorical
//feature f, level code v, on the true or false side.
func (acc *TreeAccumulator) indexCatStats(featureIndex, catValue int, isSplitTrue bool) int {
	catCumsum := 0
	if featureIndex > 0 {
		catCumsum = acc.CatLevelsCumsum[featureIndex-1]
	}
	return acc.computeSubIndex(catCumsum, catValue, isSplitTrue)
}

func (acc *TreeAccumulator) computeSubIndex(startIndex, relativeIndex int, isSplitTrue bool) int {
	colIndex := int(acc.StatsPerSplit) * 2 * (startIndex + relativeIndex)
	if isSplitTrue {
		return colIndex
	}
	return colIndex + int(acc.StatsPerSplit)
}

//buildStats constructs the stats vector contributed by one row.
func (acc *TreeAccumulator) buildStats(isRegression bool, response, weight float64) []float64 {
	stats := make([]float64, acc.StatsPerSplit)
	nRows := 1.0
	if acc.WeightsAsRows {
		nRows = math.Round(weight)
	}
	if isRegression {
		wResponse := weight * response
		stats[0] = weight
		stats[1] = wResponse
		stats[2] = wResponse * response
		stats[3] = nRows
	} else {
		stats[int(response)] = weight
		stats[len(stats)-1] = nRows
	}
	return stats
}

func addIntoRow(m *mat.Dense, rowIndex, colIndex int, stats []float64) {
	row := m.RawRowView(rowIndex)
	for i, v := range stats {
		row[colIndex+i] += v
	}
}

//Accumulate feeds one row through the primary pass: the row is routed to
//its leaf and its stats vector is added to the node cell and to every
//candidate-split cell its non-null features participate in.
func (acc *TreeAccumulator) Accumulate(dt *DecisionTree, cat []int32, con []float64,
	response, weight float64, conSplits *mat.Dense) {

	if acc.Terminated {
		return
	}
	switch {
	case math.IsNaN(response) || math.IsInf(response, 0):
		acc.terminate(ErrNonFiniteResponse)
		return
	case len(cat)+len(con) > MaxFeatures:
		acc.terminate(ErrOverwideFeatureSpace)
		return
	case len(cat) != int(acc.NCatFeatures) || len(con) != int(acc.NConFeatures):
		acc.terminate(ErrShapeMismatch)
		return
	}

	nNonLeafNodes := int(acc.NLeafNodes) - 1
	searchIndex := dt.Search(cat, con)
	if dt.FeatureIndices[searchIndex] != FinishedLeaf &&
		dt.FeatureIndices[searchIndex] != NodeNonExisting {
		rowIndex := searchIndex - nNonLeafNodes
		stats := acc.buildStats(dt.IsRegression, response, weight)

		addIntoRow(acc.NodeStats, rowIndex, 0, stats)

		for i := 0; i < int(acc.NCatFeatures); i++ {
			if dt.IsNull(float64(cat[i]), true) {
				continue
			}
			for j := 0; j < acc.CatLevels[i]; j++ {
				colIndex := acc.indexCatStats(i, j, int(cat[i]) <= j)
				addIntoRow(acc.CatStats, rowIndex, colIndex, stats)
			}
		}
		for i := 0; i < int(acc.NConFeatures); i++ {
			if dt.IsNull(con[i], false) {
				continue
			}
			for j := 0; j < int(acc.NBins); j++ {
				colIndex := acc.indexConStats(i, j, con[i] <= conSplits.At(i, j))
				addIntoRow(acc.ConStats, rowIndex, colIndex, stats)
			}
		}
	}
	acc.NRows++
}

//AccumulateSurrogate feeds one row through the surrogate pass. The
//accumulator must have been sized for the second-to-last layer (depth-1),
//so its leaf window covers the parents of the newest leaves. Only rows
//with a non-null primary value contribute; dimensionality mismatches
//drop the row without poisoning the pass.
func (acc *TreeAccumulator) AccumulateSurrogate(dt *DecisionTree, cat []int32, con []float64,
	dupCount int, conSplits *mat.Dense) {

	if len(cat)+len(con) > MaxFeatures {
		log.Print("warning: ", ErrOverwideFeatureSpace)
		return
	}
	if len(cat) != int(acc.NCatFeatures) || len(con) != int(acc.NConFeatures) {
		log.Print("warning: ", ErrShapeMismatch)
		return
	}

	// sized for the 2nd-to-last layer: n_leaf_nodes == n_surr_nodes
	nNonSurrNodes := int(acc.NLeafNodes) - 1
	parentIndex := dt.ParentIndex(dt.Search(cat, con))

	// only rows reaching the last layer train surrogates; shallower
	// nodes were handled in earlier passes
	if parentIndex < nNonSurrNodes {
		return
	}
	primaryIndex := dt.FeatureIndices[parentIndex]
	if primaryIndex < 0 {
		return
	}
	isPrimaryCat := dt.IsCategorical[parentIndex] != 0
	var primaryVal float64
	if isPrimaryCat {
		primaryVal = float64(cat[primaryIndex])
	} else {
		primaryVal = con[primaryIndex]
	}
	if dt.IsNull(primaryVal, isPrimaryCat) {
		return
	}

	isPrimaryTrue := primaryVal <= dt.FeatureThresholds[parentIndex]
	rowIndex := parentIndex - nNonSurrNodes

	for i := 0; i < int(acc.NCatFeatures); i++ {
		if isPrimaryCat && int32(i) == primaryIndex {
			continue
		}
		if dt.IsNull(float64(cat[i]), true) {
			continue
		}
		for j := 0; j < acc.CatLevels[i]; j++ {
			isSurrogateTrue := int(cat[i]) <= j
			colIndex := acc.indexCatStats(i, j, isSurrogateTrue)
			acc.updateSurrStats(true, isPrimaryTrue == isSurrogateTrue, rowIndex, colIndex, dupCount)
		}
	}
	for i := 0; i < int(acc.NConFeatures); i++ {
		if !isPrimaryCat && int32(i) == primaryIndex {
			continue
		}
		if dt.IsNull(con[i], false) {
			continue
		}
		for j := 0; j < int(acc.NBins); j++ {
			isSurrogateTrue := con[i] <= conSplits.At(i, j)
			colIndex := acc.indexConStats(i, j, isSurrogateTrue)
			acc.updateSurrStats(false, isPrimaryTrue == isSurrogateTrue, rowIndex, colIndex, dupCount)
		}
	}
	acc.NRows++
}

//updateSurrStats adds a surrogate observation: cell 0 of the pair counts
//agreement with the primary decision, cell 1 disagreement.
func (acc *TreeAccumulator) updateSurrStats(isCat, surrAgrees bool, rowIndex, colIndex, dupCount int) {
	stats := make([]float64, SurrStatsPerSplit)
	if surrAgrees {
		stats[0] = float64(dupCount)
	} else {
		stats[1] = float64(dupCount)
	}
	if isCat {
		addIntoRow(acc.CatStats, rowIndex, colIndex, stats)
	} else {
		addIntoRow(acc.ConStats, rowIndex, colIndex, stats)
	}
}

//Merge folds another shard into this accumulator. Shapes must match and
//neither side may be poisoned; otherwise this accumulator terminates.
func (acc *TreeAccumulator) Merge(other *TreeAccumulator) {
	if acc.Terminated {
		return
	}
	if other.Terminated {
		acc.Terminated = true
		acc.Err = other.Err
		return
	}
	if other.NRows == 0 {
		return
	}
	shapeMismatch := acc.NBins != other.NBins ||
		acc.NCatFeatures != other.NCatFeatures ||
		acc.NConFeatures != other.NConFeatures ||
		acc.NLeafNodes != other.NLeafNodes ||
		acc.StatsPerSplit != other.StatsPerSplit
	for f := 0; !shapeMismatch && f < len(acc.CatLevels); f++ {
		shapeMismatch = acc.CatLevels[f] != other.CatLevels[f]
	}
	if shapeMismatch {
		acc.terminate(ErrShapeMismatch)
		return
	}
	if acc.CatStats != nil {
		acc.CatStats.Add(acc.CatStats, other.CatStats)
	}
	if acc.ConStats != nil {
		acc.ConStats.Add(acc.ConStats, other.ConStats)
	}
	acc.NodeStats.Add(acc.NodeStats, other.NodeStats)
	acc.NRows += other.NRows
}
