package dtl

import (
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

//DisplayNames carries the operator-facing vocabulary for rendering a
//tree: feature names, categorical level names (concatenated in feature
//order with CatNLevels giving each feature's share), and class labels.
type DisplayNames struct {
	CatFeatures []string
	ConFeatures []string
	CatLevels   []string
	CatNLevels  []int
	DepLevels   []string
}

//escapeQuotes backslash-escapes quotes and backslashes for dot labels.
func escapeQuotes(before string) string {
	var after strings.Builder
	after.Grow(len(before) + 4)
	for _, c := range before {
		switch c {
		case '"', '\\':
			after.WriteByte('\\')
		}
		after.WriteRune(c)
	}
	return after.String()
}

//getCatLabels renders the level-name set {start..end} of a categorical
//feature.
func (dt *DecisionTree) getCatLabels(names DisplayNames, catIndex int, startValue, endValue int) string {
	toSkip := 0
	for i := 0; i < catIndex; i++ {
		toSkip += names.CatNLevels[i]
	}
	var catLevels strings.Builder
	catLevels.WriteString("{")
	index := toSkip + startValue
	for ; index < toSkip+endValue && index < len(names.CatLevels)-1; index++ {
		catLevels.WriteString(names.CatLevels[index])
		catLevels.WriteString(",")
	}
	catLevels.WriteString(names.CatLevels[index])
	catLevels.WriteString("}")
	return catLevels.String()
}

//printSplit renders one split test, forward or reversed.
func (dt *DecisionTree) printSplit(names DisplayNames, isCat, isReverse bool,
	featIndex int, featThreshold float64) string {

	if !isCat {
		compare := " <= "
		if isReverse {
			compare = " > "
		}
		return fmt.Sprintf("%s%s%v", names.ConFeatures[featIndex], compare, featThreshold)
	}
	var startThreshold, endThreshold int
	if !isReverse {
		startThreshold = 0
		endThreshold = int(featThreshold)
	} else {
		startThreshold = int(featThreshold) + 1
		endThreshold = names.CatNLevels[featIndex] - 1
	}
	return fmt.Sprintf("%s in %s", names.CatFeatures[featIndex],
		dt.getCatLabels(names, featIndex, startThreshold, endThreshold))
}

func (dt *DecisionTree) displayLeafNode(id int, names DisplayNames, idPrefix string) string {
	var predictStr string
	if dt.IsRegression {
		predictStr = fmt.Sprint(dt.PredictResponseAt(id))
	} else {
		predictStr = escapeQuotes(names.DepLevels[int(dt.PredictResponseAt(id))])
	}
	return fmt.Sprintf("%q [label=\"%s\",shape=box];", idPrefix+fmt.Sprint(id), predictStr)
}

func (dt *DecisionTree) displayInternalNode(id int, names DisplayNames, idPrefix string) string {
	var labelStr string
	if dt.IsCategorical[id] == 0 {
		labelStr = fmt.Sprintf("%s <= %v",
			escapeQuotes(names.ConFeatures[dt.FeatureIndices[id]]), dt.FeatureThresholds[id])
	} else {
		labelStr = fmt.Sprintf("%s in %s",
			escapeQuotes(names.CatFeatures[dt.FeatureIndices[id]]),
			dt.getCatLabels(names, int(dt.FeatureIndices[id]), 0, int(dt.FeatureThresholds[id])))
	}
	return fmt.Sprintf("%q [label=\"%s\", shape=ellipse];", idPrefix+fmt.Sprint(id), labelStr)
}

//Display dumps the tree in dot format. True-branch edges are labeled
//"yes", false-branch edges "no"; leaves are boxes, splits ellipses.
func (dt *DecisionTree) Display(names DisplayNames, idPrefix string) string {
	var displayString strings.Builder
	if dt.FeatureIndices[0] == FinishedLeaf {
		displayString.WriteString(dt.displayLeafNode(0, names, idPrefix))
		displayString.WriteString("\n")
		return displayString.String()
	}
	for index := 0; index < len(dt.FeatureIndices)/2; index++ {
		if dt.FeatureIndices[index] < 0 {
			continue
		}
		displayString.WriteString(dt.displayInternalNode(index, names, idPrefix))
		displayString.WriteString("\n")

		tc := dt.TrueChild(index)
		if dt.FeatureIndices[tc] != NodeNonExisting {
			fmt.Fprintf(&displayString, "%q -> %q[label=\"yes\"];\n",
				idPrefix+fmt.Sprint(index), idPrefix+fmt.Sprint(tc))
			if dt.FeatureIndices[tc] == InProcessLeaf || dt.FeatureIndices[tc] == FinishedLeaf {
				displayString.WriteString(dt.displayLeafNode(tc, names, idPrefix))
				displayString.WriteString("\n")
			}
		}

		fc := dt.FalseChild(index)
		if dt.FeatureIndices[fc] != NodeNonExisting {
			fmt.Fprintf(&displayString, "%q -> %q[label=\"no\"];\n",
				idPrefix+fmt.Sprint(index), idPrefix+fmt.Sprint(fc))
			if dt.FeatureIndices[fc] == InProcessLeaf || dt.FeatureIndices[fc] == FinishedLeaf {
				displayString.WriteString(dt.displayLeafNode(fc, names, idPrefix))
				displayString.WriteString("\n")
			}
		}
	}
	return displayString.String()
}

//Print dumps the subtree under node current as indented text; call with
//current=0 and recursionDepth=0 for the whole tree.
func (dt *DecisionTree) Print(current int, names DisplayNames, recursionDepth uint16) string {
	if dt.FeatureIndices[current] == NodeNonExisting {
		return ""
	}
	var printString strings.Builder

	fmt.Fprintf(&printString, "(%d)[", current)
	if dt.IsRegression {
		fmt.Fprintf(&printString, "%v, %v", dt.NodeWeightedCount(current),
			dt.statPredict(dt.predRow(current))[0])
	} else {
		head := dt.predRow(current)[:dt.NYLabels]
		for c, v := range head {
			if c > 0 {
				printString.WriteString(" ")
			}
			fmt.Fprintf(&printString, "%v", v)
		}
	}
	printString.WriteString("]  ")

	if dt.FeatureIndices[current] >= 0 {
		printString.WriteString(dt.printSplit(names, dt.IsCategorical[current] != 0,
			false, int(dt.FeatureIndices[current]), dt.FeatureThresholds[current]))
		printString.WriteString("\n")
		indentation := strings.Repeat(" ", int(recursionDepth)*3)
		printString.WriteString(indentation)
		printString.WriteString(dt.Print(dt.TrueChild(current), names, recursionDepth+1))
		printString.WriteString(indentation)
		printString.WriteString(dt.Print(dt.FalseChild(current), names, recursionDepth+1))
	} else {
		printString.WriteString("*")
		if !dt.IsRegression {
			fmt.Fprintf(&printString, " --> %s", names.DepLevels[int(dt.PredictResponseAt(current))])
		}
		printString.WriteString("\n")
	}
	return printString.String()
}

//SurrDisplay reports the surrogate table of every internal node together
//with its majority-branch count.
func (dt *DecisionTree) SurrDisplay(names DisplayNames) string {
	if dt.MaxNSurr <= 0 {
		return ""
	}
	var displayString strings.Builder
	indentation := strings.Repeat(" ", 5)
	for currNode := 0; currNode < len(dt.FeatureIndices)/2; currNode++ {
		if dt.FeatureIndices[currNode] < 0 {
			continue
		}
		featureStr := dt.printSplit(names, dt.IsCategorical[currNode] != 0, false,
			int(dt.FeatureIndices[currNode]), dt.FeatureThresholds[currNode])
		fmt.Fprintf(&displayString, "(%d) %s\n", currNode, featureStr)

		surrBase := currNode * int(dt.MaxNSurr)
		for i := 0; i < int(dt.MaxNSurr) && dt.SurrIndices[surrBase+i] >= 0; i++ {
			currSurr := surrBase + i
			isCat := abs32(dt.SurrStatus[currSurr]) == 1
			isReverse := dt.SurrStatus[currSurr] < 0
			surrStr := dt.printSplit(names, isCat, isReverse,
				int(dt.SurrIndices[currSurr]), dt.SurrThresholds[currSurr])
			fmt.Fprintf(&displayString, "%s%d: %s    [common rows = %d]\n",
				indentation, i+1, surrStr, dt.SurrAgreement[currSurr])
		}
		fmt.Fprintf(&displayString, "%s[Majority branch = %d ]\n\n",
			indentation, dt.MajorityCount(currNode))
	}
	return displayString.String()
}

func (dt *DecisionTree) recurrentDraw(g *cgraph.Graph, names DisplayNames,
	nodeIndex int, parentNode *cgraph.Node, edgeLabel string) {

	currentNode, err := g.CreateNode(fmt.Sprint(nodeIndex))
	HandleError(err)

	if parentNode != nil {
		edge, err := g.CreateEdge("", parentNode, currentNode)
		HandleError(err)
		edge.SetLabel(edgeLabel)
	}

	if dt.FeatureIndices[nodeIndex] < 0 {
		var label string
		if dt.IsRegression {
			label = fmt.Sprint(dt.PredictResponseAt(nodeIndex))
		} else {
			label = names.DepLevels[int(dt.PredictResponseAt(nodeIndex))]
		}
		currentNode.Set("label", label)
		currentNode.Set("shape", "box")
	} else {
		currentNode.Set("label", dt.printSplit(names, dt.IsCategorical[nodeIndex] != 0,
			false, int(dt.FeatureIndices[nodeIndex]), dt.FeatureThresholds[nodeIndex]))
		currentNode.Set("shape", "ellipse")
		dt.recurrentDraw(g, names, dt.TrueChild(nodeIndex), currentNode, "yes")
		dt.recurrentDraw(g, names, dt.FalseChild(nodeIndex), currentNode, "no")
	}
}

//DrawGraph builds a graphviz graph of the tree for rendering.
func (dt *DecisionTree) DrawGraph(names DisplayNames) (*graphviz.Graphviz, *cgraph.Graph) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	HandleError(err)

	dt.recurrentDraw(graph, names, 0, nil, "")

	return graphViz, graph
}

//RenderFile renders the tree to an image file; figureType is one of
//png, svg or jpg.
func (dt *DecisionTree) RenderFile(names DisplayNames, figureType, filename string) {
	graphvizType := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]

	graphViz, graph := dt.DrawGraph(names)
	HandleError(graphViz.RenderFilename(graph, graphvizType, filename))
}
