/*

saemfit runs the SAEM nonlinear mixed-effects estimator against a TOML
configuration file.

	saemfit run.toml

To see all the options run:

	saemfit -h

*/
package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/nlmefit/saem/numeric"
	"github.com/nlmefit/saem/saem"
)

var (
	app = kingpin.New("saemfit", "SAEM nonlinear mixed-effects estimator")

	configFileName = app.Arg("config", "TOML configuration file").Required().ExistingFile()

	iterations = app.Flag("iter", "override the configured iteration count").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	logLevel   = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	outLogF  = app.Flag("log", "write log to a file").String()
	jsonF    = app.Flag("json", "write the fit result in json format to a file").String()
	phimFile = app.Flag("phim", "override the configured chain-dump path").String()
)

var log = logging.MustGetLogger("saemfit")
var formatter = logging.MustStringFormatter(`%{message}`)

func setupLogging() {
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("error creating log file:", err)
		}
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	logging.SetLevel(level, "saemfit")
	logging.SetLevel(level, "saem")
	logging.SetLevel(level, "mcmc")
	logging.SetLevel(level, "predict")
	logging.SetLevel(level, "residual")
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	setupLogging()

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("random seed from time")
	}
	log.Infof("random seed=%v", *seed)
	numeric.Seed(*seed)
	rand.Seed(*seed)

	fc, err := loadFileConfig(*configFileName)
	if err != nil {
		log.Fatal(err)
	}
	if *iterations > 0 {
		fc.Iter.Niter = *iterations
	}
	if *phimFile != "" {
		fc.Reporting.PhiMFile = *phimFile
	}

	cfg := fc.buildConfig(oneCompartmentSolver{})

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Warning("interrupt received, stopping after the current iteration")
		cancel()
	}()

	startTime := time.Now()
	result, err := saem.Fit(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	signal.Stop(sig)
	log.Infof("fit finished in %v, partial=%v", time.Since(startTime), result.Partial)

	if *jsonF != "" {
		if err := writeResultJSON(*jsonF, result); err != nil {
			log.Error("error writing json result:", err)
		}
	}
}

// resultSummary is the JSON-serializable view of saem.Result: numeric.Matrix
// carries no exported fields for encoding/json to walk, so every matrix is
// flattened to [][]float64 here.
type resultSummary struct {
	ResMat     [][]float64 `json:"res_mat"`
	TransMat   [][]float64 `json:"trans_mat"`
	MPriorPhi  [][]float64 `json:"mprior_phi"`
	MPostPhi   [][]float64 `json:"mpost_phi"`
	CPostPhi   [][]float64 `json:"cpost_phi"`
	Gamma2Phi1 [][]float64 `json:"gamma2_phi1"`
	Plambda1   [][]float64 `json:"plambda1"`
	Plambda0   [][]float64 `json:"plambda0"`
	Eta        [][]float64 `json:"eta"`
	Sig2       []float64   `json:"sig2"`
	Partial    bool        `json:"partial"`
	Iterations int         `json:"iterations"`
}

func matrixToRows(m *numeric.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		out[i] = row
	}
	return out
}

func writeResultJSON(path string, result *saem.Result) error {
	summary := resultSummary{
		ResMat:     matrixToRows(result.ResMat),
		TransMat:   matrixToRows(result.TransMat),
		MPriorPhi:  matrixToRows(result.MPriorPhi),
		MPostPhi:   matrixToRows(result.MPostPhi),
		CPostPhi:   matrixToRows(result.CPostPhi),
		Gamma2Phi1: matrixToRows(result.Gamma2Phi1),
		Plambda1:   matrixToRows(result.Plambda1),
		Plambda0:   matrixToRows(result.Plambda0),
		Eta:        matrixToRows(result.Eta),
		Sig2:       result.Sig2,
		Partial:    result.Partial,
		Iterations: len(result.ParHist),
	}
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
