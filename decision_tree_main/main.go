package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/auonhaidar/madlib/dtl"
	"github.com/sbinet/npyio"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	dtl.HandleError(err)
	defer func() { dtl.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	dtl.HandleError(decoder.Decode(out))
}

func impurityFromString(name string) dtl.ImpurityType {
	impurity, ok := map[string]dtl.ImpurityType{
		"gini":     dtl.Gini,
		"entropy":  dtl.Entropy,
		"misclass": dtl.Misclass,
	}[name]
	if !ok {
		log.Panic("unknown impurity type ", name)
	}
	return impurity
}

func conSplitsFromConfig(conSplits [][]float64) *mat.Dense {
	if len(conSplits) == 0 {
		return nil
	}
	nBins := len(conSplits[0])
	flat := make([]float64, 0, len(conSplits)*nBins)
	for _, row := range conSplits {
		if len(row) != nBins {
			log.Panic("ragged con_splits rows in config")
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(len(conSplits), nBins, flat)
}

type NamesConfig struct {
	CatFeatures []string `json:"cat_features"`
	ConFeatures []string `json:"con_features"`
	CatLevels   []string `json:"cat_levels"`
	CatNLevels  []int    `json:"cat_n_levels"`
	DepLevels   []string `json:"dep_levels"`
}

func (nc NamesConfig) displayNames() dtl.DisplayNames {
	return dtl.DisplayNames{
		CatFeatures: nc.CatFeatures,
		ConFeatures: nc.ConFeatures,
		CatLevels:   nc.CatLevels,
		CatNLevels:  nc.CatNLevels,
		DepLevels:   nc.DepLevels,
	}
}

type TrainConfig struct {
	FileNameCatFeatures string      `json:"filename_cat_features"`
	FileNameConFeatures string      `json:"filename_con_features"`
	FileNameResponse    string      `json:"filename_response"`
	FileNameWeights     string      `json:"filename_weights"`
	FileNameModel       string      `json:"filename_model"`
	CatLevels           []int       `json:"cat_levels"`
	ConSplits           [][]float64 `json:"con_splits"`
	IsRegression        bool        `json:"is_regression"`
	Impurity            string      `json:"impurity"`
	NClasses            int         `json:"n_classes"`
	MinSplit            int         `json:"min_split"`
	MinBucket           int         `json:"min_bucket"`
	MaxDepth            int         `json:"max_depth"`
	MaxNSurr            int         `json:"max_n_surr"`
	NRandomFeatures     int         `json:"n_random_features"`
	WeightsAsRows       bool        `json:"weights_as_rows"`
	NumShards           int         `json:"num_shards"`
	Seed                uint64      `json:"seed"`
}

func train(srcConfig string) {
	var trainConfig TrainConfig
	decodeConfig(srcConfig, &trainConfig)

	dm, err := dtl.ReadDMatrix(
		trainConfig.FileNameCatFeatures,
		trainConfig.FileNameConFeatures,
		trainConfig.FileNameResponse,
		trainConfig.FileNameWeights,
	)
	dtl.HandleError(err)

	impurity := dtl.Gini
	if trainConfig.Impurity != "" {
		impurity = impurityFromString(trainConfig.Impurity)
	}

	var rng dtl.UniformSource
	if trainConfig.Seed != 0 {
		rng = rand.New(rand.NewSource(trainConfig.Seed))
	}

	tree, err := dtl.Train(dtl.TrainParams{
		Impurity:        impurity,
		IsRegression:    trainConfig.IsRegression,
		NYLabels:        uint16(trainConfig.NClasses),
		MinSplit:        uint16(trainConfig.MinSplit),
		MinBucket:       uint16(trainConfig.MinBucket),
		MaxDepth:        uint16(trainConfig.MaxDepth),
		MaxNSurr:        uint16(trainConfig.MaxNSurr),
		NRandomFeatures: trainConfig.NRandomFeatures,
		WeightsAsRows:   trainConfig.WeightsAsRows,
		NumShards:       trainConfig.NumShards,
		Rand:            rng,
	}, dm, trainConfig.CatLevels, conSplitsFromConfig(trainConfig.ConSplits))
	dtl.HandleError(err)

	tree.Save(trainConfig.FileNameModel)
	log.Print("trained tree of depth ", tree.TreeDepth)
}

type PredictConfig struct {
	FileNameCatFeatures string `json:"filename_cat_features"`
	FileNameConFeatures string `json:"filename_con_features"`
	FileNameModel       string `json:"filename_model"`
	FileNamePrediction  string `json:"filename_prediction"`
}

func predict(srcConfig string) {
	var predictConfig PredictConfig
	decodeConfig(srcConfig, &predictConfig)

	dm, err := dtl.ReadDMatrix(
		predictConfig.FileNameCatFeatures,
		predictConfig.FileNameConFeatures,
		"",
		"",
	)
	dtl.HandleError(err)

	tree := dtl.LoadModel(predictConfig.FileNameModel)

	n := dm.NRows()
	prediction := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		prediction.Set(i, 0, tree.PredictResponse(dm.CatRow(i), dm.ConRow(i)))
	}

	dst, err := os.Create(predictConfig.FileNamePrediction)
	dtl.HandleError(err)
	defer func() { dtl.HandleError(dst.Close()) }()
	dtl.HandleError(npyio.Write(dst, prediction))
}

type GraphConfig struct {
	FileNameModel string      `json:"filename_model"`
	FigureType    string      `json:"figure_type"`
	FileNameOut   string      `json:"filename_out"`
	Names         NamesConfig `json:"names"`
	IDPrefix      string      `json:"id_prefix"`
	DotOnly       bool        `json:"dot_only"`
}

func graph(srcConfig string) {
	var graphConfig GraphConfig
	decodeConfig(srcConfig, &graphConfig)

	tree := dtl.LoadModel(graphConfig.FileNameModel)
	if graphConfig.DotOnly {
		fmt.Print(tree.Display(graphConfig.Names.displayNames(), graphConfig.IDPrefix))
		return
	}
	tree.RenderFile(graphConfig.Names.displayNames(), graphConfig.FigureType, graphConfig.FileNameOut)
}

type PrintConfig struct {
	FileNameModel string      `json:"filename_model"`
	Names         NamesConfig `json:"names"`
}

func printTree(srcConfig string) {
	var printConfig PrintConfig
	decodeConfig(srcConfig, &printConfig)

	tree := dtl.LoadModel(printConfig.FileNameModel)
	fmt.Print(tree.Print(0, printConfig.Names.displayNames(), 0))
	fmt.Print(tree.SurrDisplay(printConfig.Names.displayNames()))
}

func main() {
	runMode := flag.String("mode", "train", "you can select either 'train', 'predict', 'graph' or 'print' modes")
	config := flag.String("config", "tree_config.json", "a config file for the run of the program")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	map[string]func(string){
		"train":   train,
		"predict": predict,
		"graph":   graph,
		"print":   printTree,
	}[*runMode](*config)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		dtl.HandleError(err)
		defer func() { dtl.HandleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
