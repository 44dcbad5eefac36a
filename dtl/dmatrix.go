package dtl

import (
	"errors"
	"log"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

//DMatrix holds one training or scoring dataset in memory: categorical
//feature codes as an int32 dense tensor, continuous features, response
//and weights as float64 matrices. Either feature block may be absent.
type DMatrix struct {
	CatFeatures *tensor.Dense
	ConFeatures *mat.Dense
	Response    *mat.Dense
	Weights     *mat.Dense
	DupCounts   []int
	Description *string
}

//SetDescription attaches a descriptive label to the dataset.
func (dm *DMatrix) SetDescription(description string) {
	dm.Description = &description
}

//DenseInt32 builds an int32 tensor of the given shape; the counterpart
//of mat.NewDense for categorical code matrices.
func DenseInt32(rows, cols int, data []int32) *tensor.Dense {
	if data == nil {
		data = make([]int32, rows*cols)
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

//NewDMatrix assembles a dataset and validates its dimensions. A nil
//weights matrix means unit weights.
func NewDMatrix(cat *tensor.Dense, con *mat.Dense, response, weights *mat.Dense) (*DMatrix, error) {
	dm := &DMatrix{CatFeatures: cat, ConFeatures: con, Response: response, Weights: weights}
	h := dm.NRows()
	if h == 0 {
		return nil, errors.New("empty dataset")
	}
	if weights == nil {
		ones := make([]float64, h)
		for i := range ones {
			ones[i] = 1
		}
		dm.Weights = mat.NewDense(h, 1, ones)
	}
	if _, _, err := dm.validatedDimensions(); err != nil {
		return nil, err
	}
	return dm, nil
}

//validatedDimensions checks the consistency of all blocks and returns
//the categorical and continuous widths.
func (dm *DMatrix) validatedDimensions() (nCat, nCon int, err error) {
	h := 0
	if dm.CatFeatures != nil {
		shape := dm.CatFeatures.Shape()
		if len(shape) != 2 {
			return 0, 0, errors.New("categorical block must be two-dimensional")
		}
		h = shape[0]
		nCat = shape[1]
	}
	if dm.ConFeatures != nil {
		conH, conW := dm.ConFeatures.Dims()
		if h != 0 && conH != h {
			return 0, 0, errors.New("categorical and continuous heights differ")
		}
		h = conH
		nCon = conW
	}
	if h == 0 {
		return 0, 0, errors.New("dataset has no feature block")
	}
	if dm.Response != nil {
		respH, respW := dm.Response.Dims()
		if respH != h || respW != 1 {
			return 0, 0, errors.New("response must be a column of the feature height")
		}
	}
	if dm.Weights != nil {
		wH, wW := dm.Weights.Dims()
		if wH != h || wW != 1 {
			return 0, 0, errors.New("weights must be a column of the feature height")
		}
	}
	if dm.DupCounts != nil && len(dm.DupCounts) != h {
		return 0, 0, errors.New("dup counts must match the feature height")
	}
	return nCat, nCon, nil
}

//NRows returns the dataset height.
func (dm *DMatrix) NRows() int {
	if dm.CatFeatures != nil {
		return dm.CatFeatures.Shape()[0]
	}
	if dm.ConFeatures != nil {
		h, _ := dm.ConFeatures.Dims()
		return h
	}
	return 0
}

//NCatFeatures returns the categorical width.
func (dm *DMatrix) NCatFeatures() int {
	if dm.CatFeatures == nil {
		return 0
	}
	return dm.CatFeatures.Shape()[1]
}

//NConFeatures returns the continuous width.
func (dm *DMatrix) NConFeatures() int {
	if dm.ConFeatures == nil {
		return 0
	}
	_, w := dm.ConFeatures.Dims()
	return w
}

//CatRow returns row i of the categorical block without copying.
func (dm *DMatrix) CatRow(i int) []int32 {
	if dm.CatFeatures == nil {
		return nil
	}
	nCat := dm.CatFeatures.Shape()[1]
	backing := dm.CatFeatures.Data().([]int32)
	return backing[i*nCat : (i+1)*nCat]
}

//ConRow returns row i of the continuous block without copying.
func (dm *DMatrix) ConRow(i int) []float64 {
	if dm.ConFeatures == nil {
		return nil
	}
	return dm.ConFeatures.RawRowView(i)
}

//ResponseAt returns the response of row i.
func (dm *DMatrix) ResponseAt(i int) float64 {
	return dm.Response.At(i, 0)
}

//WeightAt returns the weight of row i.
func (dm *DMatrix) WeightAt(i int) float64 {
	return dm.Weights.At(i, 0)
}

//DupCountAt returns the replication count of row i, defaulting to 1.
func (dm *DMatrix) DupCountAt(i int) int {
	if dm.DupCounts == nil {
		return 1
	}
	return dm.DupCounts[i]
}

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(fileName string) *mat.Dense {
	f, err := os.Open(fileName)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		log.Fatal(err)
	}

	denseMat := &mat.Dense{}
	HandleError(r.Read(denseMat))
	return denseMat
}

//ReadDMatrix reads the dataset blocks from npy files and unites them
//into one DMatrix. Empty file names mean the block is absent; weights
//default to 1. Categorical npy data is float64 on disk and is truncated
//to int32 level codes.
func ReadDMatrix(fileNameCat, fileNameCon, fileNameResponse, fileNameWeights string) (*DMatrix, error) {
	var cat *tensor.Dense
	if fileNameCat != "" {
		log.Print("\ttry to load categorical features <", fileNameCat, ">")
		catFloat := ReadNpy(fileNameCat)
		h, w := catFloat.Dims()
		codes := make([]int32, h*w)
		for p := 0; p < h; p++ {
			for q := 0; q < w; q++ {
				codes[p*w+q] = int32(catFloat.At(p, q))
			}
		}
		cat = DenseInt32(h, w, codes)
	}

	var con *mat.Dense
	if fileNameCon != "" {
		log.Print("\ttry to load continuous features <", fileNameCon, ">")
		con = ReadNpy(fileNameCon)
	}

	var response *mat.Dense
	if fileNameResponse != "" {
		log.Print("\ttry to load response <", fileNameResponse, ">")
		response = ReadNpy(fileNameResponse)
	}

	var weights *mat.Dense
	if fileNameWeights != "" {
		log.Print("\ttry to load weights <", fileNameWeights, ">")
		weights = ReadNpy(fileNameWeights)
	}

	return NewDMatrix(cat, con, response, weights)
}
