package dtl

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"
)

//The binary layout is the scalar header (tree_depth:u16, n_y_labels:u16,
//max_n_surr:u16, is_regression:u8, impurity_type:u8) followed by the
//flat arrays in fixed order; array lengths are implied by the header.
//Everything is little-endian.

//MarshalBinary serializes the tree into the flat persistence layout.
func (dt *DecisionTree) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	var isRegression uint8
	if dt.IsRegression {
		isRegression = 1
	}
	fields := []interface{}{
		dt.TreeDepth,
		dt.NYLabels,
		dt.MaxNSurr,
		isRegression,
		uint8(dt.Impurity),
		dt.FeatureIndices,
		dt.FeatureThresholds,
		dt.IsCategorical,
		dt.NonNullSplitCount,
		dt.SurrIndices,
		dt.SurrThresholds,
		dt.SurrStatus,
		dt.SurrAgreement,
		dt.Predictions.RawMatrix().Data,
	}
	for _, field := range fields {
		if err := binary.Write(buf, binary.LittleEndian, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

//UnmarshalBinary restores a tree from the flat persistence layout.
func (dt *DecisionTree) UnmarshalBinary(data []byte) error {
	buf := bytes.NewReader(data)

	var treeDepth, nYLabels, maxNSurr uint16
	var isRegression, impurity uint8
	for _, field := range []interface{}{&treeDepth, &nYLabels, &maxNSurr, &isRegression, &impurity} {
		if err := binary.Read(buf, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	dt.Impurity = ImpurityType(impurity)
	dt.Rebind(treeDepth, nYLabels, maxNSurr, isRegression != 0)

	predictionData := make([]float64, dt.NNodes()*dt.nLabelCols())
	fields := []interface{}{
		dt.FeatureIndices,
		dt.FeatureThresholds,
		dt.IsCategorical,
		dt.NonNullSplitCount,
		dt.SurrIndices,
		dt.SurrThresholds,
		dt.SurrStatus,
		dt.SurrAgreement,
		predictionData,
	}
	for _, field := range fields {
		if err := binary.Read(buf, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	dt.Predictions = mat.NewDense(dt.NNodes(), dt.nLabelCols(), predictionData)
	return nil
}

//jsonTree is the operator-facing JSON shape of a tree.
type jsonTree struct {
	TreeDepth         uint16       `json:"tree_depth"`
	NYLabels          uint16       `json:"n_y_labels"`
	MaxNSurr          uint16       `json:"max_n_surr"`
	IsRegression      bool         `json:"is_regression"`
	Impurity          ImpurityType `json:"impurity_type"`
	FeatureIndices    []int32      `json:"feature_indices"`
	FeatureThresholds []float64    `json:"feature_thresholds"`
	IsCategorical     []uint8      `json:"is_categorical"`
	NonNullSplitCount []float64    `json:"nonnull_split_count"`
	SurrIndices       []int32      `json:"surr_indices,omitempty"`
	SurrThresholds    []float64    `json:"surr_thresholds,omitempty"`
	SurrStatus        []int32      `json:"surr_status,omitempty"`
	SurrAgreement     []int32      `json:"surr_agreement,omitempty"`
	Predictions       [][]float64  `json:"predictions"`
}

func (dt *DecisionTree) MarshalJSON() ([]byte, error) {
	predictions := make([][]float64, dt.NNodes())
	for i := range predictions {
		predictions[i] = append([]float64(nil), dt.predRow(i)...)
	}
	return json.Marshal(jsonTree{
		TreeDepth:         dt.TreeDepth,
		NYLabels:          dt.NYLabels,
		MaxNSurr:          dt.MaxNSurr,
		IsRegression:      dt.IsRegression,
		Impurity:          dt.Impurity,
		FeatureIndices:    dt.FeatureIndices,
		FeatureThresholds: dt.FeatureThresholds,
		IsCategorical:     dt.IsCategorical,
		NonNullSplitCount: dt.NonNullSplitCount,
		SurrIndices:       dt.SurrIndices,
		SurrThresholds:    dt.SurrThresholds,
		SurrStatus:        dt.SurrStatus,
		SurrAgreement:     dt.SurrAgreement,
		Predictions:       predictions,
	})
}

func (dt *DecisionTree) UnmarshalJSON(data []byte) error {
	var jt jsonTree
	if err := json.Unmarshal(data, &jt); err != nil {
		return err
	}
	dt.Impurity = jt.Impurity
	dt.Rebind(jt.TreeDepth, jt.NYLabels, jt.MaxNSurr, jt.IsRegression)
	copy(dt.FeatureIndices, jt.FeatureIndices)
	copy(dt.FeatureThresholds, jt.FeatureThresholds)
	copy(dt.IsCategorical, jt.IsCategorical)
	copy(dt.NonNullSplitCount, jt.NonNullSplitCount)
	copy(dt.SurrIndices, jt.SurrIndices)
	copy(dt.SurrThresholds, jt.SurrThresholds)
	copy(dt.SurrStatus, jt.SurrStatus)
	copy(dt.SurrAgreement, jt.SurrAgreement)
	for i, row := range jt.Predictions {
		dt.Predictions.SetRow(i, row)
	}
	return nil
}

//Save writes the tree as an indented JSON model file.
func (dt *DecisionTree) Save(filename string) {
	dest, err := os.Create(filename)
	if err != nil {
		log.Print("can't open file ", filename, " to write")
	}
	HandleError(err)
	defer func() { HandleError(dest.Close()) }()

	modelByteRepr, err := json.MarshalIndent(dt, "", "  ")
	HandleError(err)

	_, err = dest.Write(modelByteRepr)
	HandleError(err)
}

//LoadModel reads a JSON model file written by Save.
func LoadModel(filename string) *DecisionTree {
	source, err := os.Open(filename)
	HandleError(err)
	defer func() { HandleError(source.Close()) }()

	dt := &DecisionTree{}
	decoder := json.NewDecoder(source)
	HandleError(decoder.Decode(dt))
	return dt
}
