package heatmap

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FrameStats summarises the usable, non-zero distances of one evaluated frame.
type FrameStats struct {
	UsableCells  int     `json:"usable_cells"`
	InvalidCells int     `json:"invalid_cells"`
	MinMM        float64 `json:"min_mm"`
	MaxMM        float64 `json:"max_mm"`
	MeanMM       float64 `json:"mean_mm"`
	StdDevMM     float64 `json:"stddev_mm"`
	Nearest      Cell    `json:"nearest"`
	HasNearest   bool    `json:"has_nearest"`
	UnderGlobal  int     `json:"under_global"`
}

func computeStats(shape Shape, distances []int, states []CellState) FrameStats {
	var st FrameStats
	samples := make([]float64, 0, len(distances))
	idxs := make([]int, 0, len(distances))
	for i, d := range distances {
		if !states[i].Usable() {
			st.InvalidCells++
			continue
		}
		st.UsableCells++
		if d == 0 {
			continue
		}
		samples = append(samples, float64(d))
		idxs = append(idxs, i)
	}
	if len(samples) == 0 {
		return st
	}

	st.MinMM = floats.Min(samples)
	st.MaxMM = floats.Max(samples)
	if len(samples) == 1 {
		st.MeanMM = samples[0]
	} else {
		st.MeanMM, st.StdDevMM = stat.MeanStdDev(samples, nil)
	}
	nearest := idxs[floats.MinIdx(samples)]
	st.Nearest = Cell{Row: nearest / shape.Cols, Col: nearest % shape.Cols}
	st.HasNearest = true
	return st
}
