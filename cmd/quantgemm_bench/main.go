// quantgemm_bench sweeps the compiled tile configurations over a set of
// problem shapes and prints a throughput table.
//
// Example:
//
//	$ go run ./cmd/quantgemm_bench -dtype=bf16 -shapes=16x256x513 -split_k=1,2,4
package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/quantgemm/engine"
	"github.com/gomlx/quantgemm/kernels"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	flagShapes = flag.String("shapes", "16x4096x4096,128x4096x4096,1x8192x1024,16x256x513",
		"Comma-separated list of MxNxK problem shapes to benchmark.")
	flagInstances = flag.String("instances", "",
		"Comma-separated list of tile configuration names to benchmark. Empty runs all of them.")
	flagDType = flag.String("dtype", "f16",
		"Output dtype: f16 or bf16.")
	flagSplitK = flag.String("split_k", "1",
		"Comma-separated list of split-K factors to benchmark (subset of 1,2,4).")
	flagWarmup  = flag.Int("warmup", 2, "Warm-up runs per case, not timed.")
	flagMinRuns = flag.Int("min_runs", 10, "Minimum timed runs per case.")
	flagMinTime = flag.Duration("min_time", time.Second, "Minimum total timed duration per case.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

type benchShape struct{ m, n, k int }

func parseShapes(spec string) []benchShape {
	var parsed []benchShape
	for _, part := range strings.Split(spec, ",") {
		dims := strings.Split(strings.TrimSpace(part), "x")
		if len(dims) != 3 {
			klog.Exitf("invalid shape %q, want MxNxK", part)
		}
		var s benchShape
		s.m = must.M1(strconv.Atoi(dims[0]))
		s.n = must.M1(strconv.Atoi(dims[1]))
		s.k = must.M1(strconv.Atoi(dims[2]))
		parsed = append(parsed, s)
	}
	return parsed
}

func parseSplitK(spec string) []int {
	var factors []int
	for _, part := range strings.Split(spec, ",") {
		factors = append(factors, must.M1(strconv.Atoi(strings.TrimSpace(part))))
	}
	return factors
}

// randomProblem builds the int8 operands, scales and output buffer of one shape.
func randomProblem(e *engine.Engine, s benchShape, dtype dtypes.DType) (xq, wq, xScale, wScale, y *engine.Buffer) {
	rng := rand.New(rand.NewPCG(42, uint64(s.m*s.n+s.k)))
	xqFlat := make([]int8, s.m*s.k)
	for i := range xqFlat {
		xqFlat[i] = int8(rng.IntN(255) - 127)
	}
	wqFlat := make([]int8, s.n*s.k)
	for i := range wqFlat {
		wqFlat[i] = int8(rng.IntN(255) - 127)
	}
	xScaleFlat := make([]float32, s.m)
	for i := range xScaleFlat {
		xScaleFlat[i] = rng.Float32()*0.1 + 1e-3
	}
	wScaleFlat := make([]float32, s.n)
	for i := range wScaleFlat {
		wScaleFlat[i] = rng.Float32()*0.1 + 1e-3
	}
	xq = engine.BufferFromFlatData(e, xqFlat, s.m, s.k)
	wq = engine.BufferFromFlatData(e, wqFlat, s.n, s.k)
	xScale = engine.BufferFromFlatData(e, xScaleFlat, s.m)
	wScale = engine.BufferFromFlatData(e, wScaleFlat, s.n)
	if dtype == dtypes.Float16 {
		y = engine.BufferFromFlatData(e, make([]float16.Float16, s.m*s.n), s.m, s.n)
	} else {
		y = engine.BufferFromFlatData(e, make([]bfloat16.BFloat16, s.m*s.n), s.m, s.n)
	}
	return
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	var dtype dtypes.DType
	switch *flagDType {
	case "f16", "float16":
		dtype = dtypes.Float16
	case "bf16", "bfloat16":
		dtype = dtypes.BFloat16
	default:
		klog.Exitf("unknown -dtype=%q, want f16 or bf16", *flagDType)
	}

	shapesToRun := parseShapes(*flagShapes)
	splitKFactors := parseSplitK(*flagSplitK)
	filterInstances := *flagInstances != ""
	instancesToRun := make(map[string]bool)
	for _, name := range strings.Split(*flagInstances, ",") {
		instancesToRun[strings.TrimSpace(name)] = true
	}

	configs := make([]*kernels.TileConfig, 0, len(kernels.Instances))
	for _, cfg := range kernels.Instances {
		if filterInstances && !instancesToRun[cfg.Name] {
			continue
		}
		configs = append(configs, cfg)
	}
	if len(configs) == 0 {
		klog.Exitf("no tile configurations selected by -instances=%q", *flagInstances)
	}

	e := engine.New()
	stream := e.DefaultStream()
	defer stream.Finalize()

	// Tests and pipes disable colors; force a profile so the table renders.
	lipgloss.SetColorProfile(termenv.ANSI256)

	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		}).
		Headers("Shape (MxNxK)", "Instance", "SplitK", "Variant", "Time/Run", "Ops", "GOps/s")

	bar := progressbar.Default(int64(len(shapesToRun)*len(configs)*len(splitKFactors)), "benchmarking")
	for _, shape := range shapesToRun {
		xq, wq, xScale, wScale, y := randomProblem(e, shape, dtype)
		numOps := int64(shape.m) * int64(shape.n) * int64(shape.k) * 2

		for _, cfg := range configs {
			for _, splitK := range splitKFactors {
				_ = bar.Add(1)
				dispatch := kernels.Lookup(kernels.InstanceKey{Name: cfg.Name, SplitK: splitK, DType: dtype})
				if dispatch == nil {
					continue
				}
				variant := cfg.VariantForK(shape.k, splitK)

				run := func() error {
					if _, err := dispatch(stream, xq, wq, xScale, wScale, y); err != nil {
						return err
					}
					stream.Synchronize()
					return nil
				}

				skip := false
				for range *flagWarmup {
					if err := run(); err != nil {
						if errors.Is(err, engine.ErrUnsupportedShape) {
							skip = true
							break
						}
						klog.Exitf("benchmark failed: %+v", err)
					}
				}
				if skip {
					continue
				}

				start := time.Now()
				var numRuns int
				for numRuns < *flagMinRuns || time.Since(start) < *flagMinTime {
					must.M(run())
					numRuns++
				}
				perRun := time.Since(start) / time.Duration(numRuns)
				gOpsPerSec := float64(numOps) / perRun.Seconds() / 1e9

				table.Row(
					fmt.Sprintf("%dx%dx%d", shape.m, shape.n, shape.k),
					cfg.Name,
					strconv.Itoa(splitK),
					variant.String(),
					perRun.Round(time.Microsecond).String(),
					humanize.Comma(numOps),
					fmt.Sprintf("%.1f", gOpsPerSec),
				)
			}
		}

		for _, buf := range []*engine.Buffer{xq, wq, xScale, wScale, y} {
			must.M(e.Finalize(buf))
		}
	}
	_ = bar.Finish()

	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, table.Render())
}
