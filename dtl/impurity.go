package dtl

import (
	"log"
	"math"
)

//computeEntropy returns -p*log2(p) with 0*log(0) = 0. Negative
//probabilities indicate corrupted statistics and abort.
func computeEntropy(p float64) float64 {
	if p < 0 {
		log.Panic("unexpected negative probability")
	}
	if p == 0 {
		return 0
	}
	return -p * math.Log2(p)
}

//statPredict converts a stats vector into a prediction: the mean
//response for regression, the class proportion vector for classification.
func (dt *DecisionTree) statPredict(stats []float64) []float64 {
	if dt.IsRegression {
		return []float64{stats[1] / stats[0]}
	}
	head := stats[:dt.NYLabels]
	total := 0.0
	for _, v := range head {
		total += v
	}
	proportions := make([]float64, len(head))
	for c, v := range head {
		proportions[c] = v / total
	}
	return proportions
}

//statCount returns the unweighted row count carried in the trailing
//cell of a stats vector.
func statCount(stats []float64) uint64 {
	return uint64(stats[len(stats)-1])
}

//statWeightedCount returns the weighted row count of a stats vector.
func (dt *DecisionTree) statWeightedCount(stats []float64) float64 {
	if dt.IsRegression {
		return stats[0]
	}
	total := 0.0
	for _, v := range stats[:dt.NYLabels] {
		total += v
	}
	return total
}

//impurity evaluates the configured impurity measure on a stats vector.
func (dt *DecisionTree) impurity(stats []float64) float64 {
	if dt.IsRegression {
		// variance is the only supported regression metric
		if stats[0] <= 0 {
			return 0
		}
		mean := stats[1] / stats[0]
		return stats[2]/stats[0] - mean*mean
	}
	proportions := dt.statPredict(stats)
	switch dt.Impurity {
	case Gini:
		sum := 0.0
		for _, p := range proportions {
			sum += p * p
		}
		return 1 - sum
	case Entropy:
		sum := 0.0
		for _, p := range proportions {
			sum += computeEntropy(p)
		}
		return sum
	case Misclass:
		maxP := math.Inf(-1)
		for _, p := range proportions {
			if p > maxP {
				maxP = p
			}
		}
		return 1 - maxP
	}
	log.Panic("no impurity function set for a classification tree")
	return 0
}

//impurityGain scores a candidate split from its combined true/false
//stats (a vector of width 2*statsPerSplit). A split that sends every
//row to one side gains nothing.
func (dt *DecisionTree) impurityGain(combinedStats []float64, statsPerSplit int) float64 {
	trueStats := combinedStats[:statsPerSplit]
	falseStats := combinedStats[statsPerSplit : 2*statsPerSplit]
	trueCount := dt.statWeightedCount(trueStats)
	falseCount := dt.statWeightedCount(falseStats)
	totalCount := trueCount + falseCount

	if trueCount == 0 || falseCount == 0 {
		return 0
	}

	statsSum := make([]float64, statsPerSplit)
	for i := range statsSum {
		statsSum[i] = trueStats[i] + falseStats[i]
	}
	return dt.impurity(statsSum) -
		trueCount/totalCount*dt.impurity(trueStats) -
		falseCount/totalCount*dt.impurity(falseStats)
}

//isChildPure reports whether a child's responses are too uniform for a
//further split to matter.
func (dt *DecisionTree) isChildPure(stats []float64) bool {
	epsilon := dt.PurityEpsilon
	if epsilon == 0 {
		epsilon = DefaultPurityEpsilon
	}
	if dt.IsRegression {
		mean := stats[1] / stats[0]
		variance := stats[2]/stats[0] - mean*mean
		return variance < epsilon*mean*mean
	}
	head := stats[:dt.NYLabels]
	total, maxVal := 0.0, math.Inf(-1)
	for _, v := range head {
		total += v
		if v > maxVal {
			maxVal = v
		}
	}
	return (total-maxVal)/total < 100*epsilon
}
