package dtl

import (
	"gonum.org/v1/gonum/mat"
)

//foldAgreement collapses surrogate-mode stats into agreement counts.
//Each candidate occupies four cells: (<=, agree), (<=, disagree),
//(>, agree), (>, disagree). Summing cells {0,2} yields the forward
//agreement of the candidate, cells {1,3} the reverse agreement. The
//fold is a product with a 0/1 aggregation matrix: even output columns
//are forward counts, odd columns reverse counts.
func foldAgreement(stats *mat.Dense, nSplits, nLeaves int) *mat.Dense {
	agg := mat.NewDense(nSplits*4, nSplits*2, nil)
	for c := 0; c < nSplits*2; c += 2 {
		agg.Set(2*c, c, 1)
		agg.Set(2*c+2, c, 1)
		agg.Set(2*c+1, c+1, 1)
		agg.Set(2*c+3, c+1, 1)
	}
	counts := mat.NewDense(nLeaves, nSplits*2, nil)
	counts.Mul(stats, agg)
	return counts
}

//maxSegment returns the first maximum's index and value within row
//[start, start+length) of m.
func maxSegment(m *mat.Dense, row, start, length int) (int, float64) {
	maxLabel := 0
	maxVal := m.At(row, start)
	for k := 1; k < length; k++ {
		if m.At(row, start+k) > maxVal {
			maxVal = m.At(row, start+k)
			maxLabel = k
		}
	}
	return maxLabel, maxVal
}

//PickSurrogates trains surrogate splits for the internal nodes of the
//last completed layer from a completed surrogate pass. Per feature the
//best-agreeing threshold (forward or reverse) is kept; features are then
//ranked by agreement and stored until the slots run out or a candidate
//fails to beat the majority-branch baseline, which ends the list.
func (dt *DecisionTree) PickSurrogates(state *TreeAccumulator, conSplits *mat.Dense) {
	if dt.MaxNSurr == 0 || dt.TreeDepth < 2 {
		return
	}

	nCats := int(state.NCatFeatures)
	nCons := int(state.NConFeatures)
	nBins := int(state.NBins)
	nCatSplits := int(state.TotalNCatLevels)
	nConSplits := nCons * nBins
	nSurrNodes := 1 << (dt.TreeDepth - 2)

	var catCounts, conCounts *mat.Dense
	if nCatSplits > 0 {
		catCounts = foldAgreement(state.CatStats, nCatSplits, nSurrNodes)
	}
	if nConSplits > 0 {
		conCounts = foldAgreement(state.ConStats, nConSplits, nSurrNodes)
	}

	nAncestors := nSurrNodes - 1
	for level := NewLevelRange(dt.TreeDepth - 1); level.HasNext(); {
		currNode := level.GetNext()
		if dt.FeatureIndices[currNode] < 0 {
			continue
		}
		i := currNode - nAncestors

		// 1. best threshold (forward or reverse) per feature
		catMaxThres := make([]float64, nCats)
		catMaxCount := make([]float64, nCats)
		catMaxIsReverse := make([]bool, nCats)
		prevCumLevels := 0
		for eachCat := 0; catCounts != nil && eachCat < nCats; eachCat++ {
			nLevels := state.CatLevelsCumsum[eachCat] - prevCumLevels
			maxLabel, maxVal := maxSegment(catCounts, i, prevCumLevels*2, nLevels*2)
			catMaxThres[eachCat] = float64(maxLabel / 2)
			catMaxCount[eachCat] = maxVal
			// odd columns carry reverse-agreement counts
			catMaxIsReverse[eachCat] = maxLabel%2 == 1
			prevCumLevels = state.CatLevelsCumsum[eachCat]
		}

		conMaxThres := make([]float64, nCons)
		conMaxCount := make([]float64, nCons)
		conMaxIsReverse := make([]bool, nCons)
		for eachCon := 0; conCounts != nil && eachCon < nCons; eachCon++ {
			maxLabel, maxVal := maxSegment(conCounts, i, eachCon*nBins*2, nBins*2)
			conMaxThres[eachCon] = conSplits.At(eachCon, maxLabel/2)
			conMaxCount[eachCon] = maxVal
			conMaxIsReverse[eachCon] = maxLabel%2 == 1
		}

		// 2. rank features by their best agreement
		allCounts := make([]float64, 0, nCats+nCons)
		allCounts = append(allCounts, catMaxCount...)
		allCounts = append(allCounts, conMaxCount...)
		sortedSurrIndices := argsortDesc(allCounts)

		// 3. store the top candidates
		maxSize := len(sortedSurrIndices)
		if maxSize > int(dt.MaxNSurr) {
			maxSize = int(dt.MaxNSurr)
		}
		surrCount := 0
		for j := 0; j < maxSize; j++ {
			currSurr := sortedSurrIndices[j]
			// a surrogate must beat routing everyone to the majority branch
			if allCounts[currSurr] < float64(dt.MajorityCount(currNode)) {
				break
			}
			toUpdate := currNode*int(dt.MaxNSurr) + surrCount
			if currSurr < nCats {
				if dt.IsCategorical[currNode] == 1 && int(dt.FeatureIndices[currNode]) == currSurr {
					continue // primary split cannot be its own surrogate
				}
				dt.SurrIndices[toUpdate] = int32(currSurr)
				dt.SurrThresholds[toUpdate] = catMaxThres[currSurr]
				dt.SurrStatus[toUpdate] = 1
				if catMaxIsReverse[currSurr] {
					dt.SurrStatus[toUpdate] = -1
				}
				dt.SurrAgreement[toUpdate] = int32(catMaxCount[currSurr])
				surrCount++
			} else {
				currSurr -= nCats // continuous indices follow the categorical block
				if dt.IsCategorical[currNode] == 0 && int(dt.FeatureIndices[currNode]) == currSurr {
					continue
				}
				dt.SurrIndices[toUpdate] = int32(currSurr)
				dt.SurrThresholds[toUpdate] = conMaxThres[currSurr]
				dt.SurrStatus[toUpdate] = 2
				if conMaxIsReverse[currSurr] {
					dt.SurrStatus[toUpdate] = -2
				}
				dt.SurrAgreement[toUpdate] = int32(conMaxCount[currSurr])
				surrCount++
			}
		}
	}
}
