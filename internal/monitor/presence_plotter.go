package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/presence.report/internal/fsutil"
	"github.com/banshee-data/presence.report/internal/heatmap"
)

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch

	// DefaultMaxSamples bounds the samples held for one run, about an hour
	// of frames at the default 100ms evaluation interval before thinning.
	DefaultMaxSamples = 36000
)

// ErrNoOutputDir is returned by GeneratePlots before Start has been called.
var ErrNoOutputDir = errors.New("no output directory configured")

// PresenceSample is one evaluated frame as seen by the plotter.
type PresenceSample struct {
	FrameIdx    int
	Timestamp   time.Time
	Global      bool
	ROI         []bool
	NearestMM   float64 // 0 when no usable non-zero cell
	UnderGlobal int
}

// PresencePlotter records presence over time and renders it to PNG after a run.
type PresencePlotter struct {
	fs        fsutil.FileSystem
	mu        sync.Mutex
	enabled   bool
	outputDir string
	samples   []PresenceSample
	startTime time.Time
	frameIdx  int

	// once samples reaches maxSamples they are thinned and only every
	// stride-th frame is kept, plus every frame where presence changes
	maxSamples int
	stride     int
}

// NewPresencePlotter returns a stopped plotter writing to the OS filesystem.
func NewPresencePlotter() *PresencePlotter {
	return NewPresencePlotterFS(fsutil.OSFileSystem{})
}

// NewPresencePlotterFS returns a stopped plotter writing through fsys.
func NewPresencePlotterFS(fsys fsutil.FileSystem) *PresencePlotter {
	return &PresencePlotter{fs: fsys, maxSamples: DefaultMaxSamples, stride: 1}
}

// SetMaxSamples changes the sample bound. Values below 2 are ignored.
func (pp *PresencePlotter) SetMaxSamples(n int) {
	if n < 2 {
		return
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.maxSamples = n
	for len(pp.samples) > pp.maxSamples {
		pp.thin()
	}
}

// Start clears previous samples and begins recording. outputDir is created
// if needed.
func (pp *PresencePlotter) Start(outputDir string) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if err := pp.fs.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	pp.outputDir = outputDir
	pp.enabled = true
	pp.startTime = time.Time{}
	pp.frameIdx = 0
	pp.samples = nil
	pp.stride = 1
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (pp *PresencePlotter) Stop() {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (pp *PresencePlotter) IsEnabled() bool {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.enabled
}

// Sample records one evaluated frame. Unevaluated results are ignored.
func (pp *PresencePlotter) Sample(res heatmap.EvaluationResult, at time.Time) {
	if !res.Evaluated {
		return
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if !pp.enabled {
		return
	}
	if pp.startTime.IsZero() {
		pp.startTime = at
	}
	pp.frameIdx++

	s := PresenceSample{
		FrameIdx:    pp.frameIdx,
		Timestamp:   at,
		Global:      res.GlobalPresence,
		ROI:         append([]bool(nil), res.ROIPresence...),
		UnderGlobal: res.Stats.UnderGlobal,
	}
	if res.Stats.HasNearest {
		s.NearestMM = res.Stats.MinMM
	}
	if pp.frameIdx%pp.stride != 0 && len(pp.samples) > 0 && !presenceChanged(pp.samples[len(pp.samples)-1], s) {
		return
	}
	pp.samples = append(pp.samples, s)
	for len(pp.samples) > pp.maxSamples {
		pp.thin()
	}
}

// thin halves the sampling rate. The first sample and every presence
// transition are kept; if transitions alone exceed the bound the oldest
// samples are dropped.
func (pp *PresencePlotter) thin() {
	pp.stride *= 2
	kept := pp.samples[:1]
	for _, s := range pp.samples[1:] {
		if s.FrameIdx%pp.stride == 0 || presenceChanged(kept[len(kept)-1], s) {
			kept = append(kept, s)
		}
	}
	if len(kept) > pp.maxSamples {
		kept = append(kept[:0], kept[len(kept)-pp.maxSamples:]...)
	}
	pp.samples = kept
}

func presenceChanged(prev, s PresenceSample) bool {
	if prev.Global != s.Global || len(prev.ROI) != len(s.ROI) {
		return true
	}
	for i := range s.ROI {
		if prev.ROI[i] != s.ROI[i] {
			return true
		}
	}
	return false
}

// SampleCount returns the number of recorded frames.
func (pp *PresencePlotter) SampleCount() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.samples)
}

// OutputDir returns the directory plots are written to.
func (pp *PresencePlotter) OutputDir() string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.outputDir
}

// GeneratePlots writes presence.png and nearest_distance.png. It returns
// the number of files written.
func (pp *PresencePlotter) GeneratePlots() (int, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.outputDir == "" {
		return 0, ErrNoOutputDir
	}
	if len(pp.samples) == 0 {
		return 0, nil
	}

	if err := pp.presencePlot(); err != nil {
		return 0, err
	}
	if err := pp.distancePlot(); err != nil {
		return 1, err
	}
	return 2, nil
}

// elapsed returns the x coordinate of s in seconds since the first sample.
func (pp *PresencePlotter) elapsed(s PresenceSample) float64 {
	return s.Timestamp.Sub(pp.startTime).Seconds()
}

// presencePlot draws global and per-ROI presence as stacked step lines so
// the traces do not overlap.
func (pp *PresencePlotter) presencePlot() error {
	p := plot.New()
	p.Title.Text = "Presence"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Track"

	roiCount := 0
	for _, s := range pp.samples {
		if len(s.ROI) > roiCount {
			roiCount = len(s.ROI)
		}
	}
	colors := generateColors(roiCount + 1)

	global := make(plotter.XYs, 0, len(pp.samples))
	for _, s := range pp.samples {
		global = append(global, plotter.XY{X: pp.elapsed(s), Y: level(0, s.Global)})
	}
	if err := addStep(p, "tof_presence", global, colors[0]); err != nil {
		return err
	}

	for roi := 0; roi < roiCount; roi++ {
		pts := make(plotter.XYs, 0, len(pp.samples))
		for _, s := range pp.samples {
			on := roi < len(s.ROI) && s.ROI[roi]
			pts = append(pts, plotter.XY{X: pp.elapsed(s), Y: level(roi+1, on)})
		}
		if err := addStep(p, fmt.Sprintf("Target %d", roi+1), pts, colors[roi+1]); err != nil {
			return err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := pp.save(p, "presence.png"); err != nil {
		return fmt.Errorf("save presence plot: %w", err)
	}
	return nil
}

// level maps track n to the band [2n, 2n+0.8].
func level(track int, on bool) float64 {
	y := float64(2 * track)
	if on {
		y += 0.8
	}
	return y
}

func addStep(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.StepStyle = plotter.PostStep
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func (pp *PresencePlotter) distancePlot() error {
	p := plot.New()
	p.Title.Text = "Nearest valid distance"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Distance (mm)"

	pts := make(plotter.XYs, 0, len(pp.samples))
	for _, s := range pp.samples {
		// frames with nothing in view leave a gap
		if s.NearestMM > 0 {
			pts = append(pts, plotter.XY{X: pp.elapsed(s), Y: s.NearestMM})
		}
	}
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("nearest", line)
	}

	if err := pp.save(p, "nearest_distance.png"); err != nil {
		return fmt.Errorf("save distance plot: %w", err)
	}
	return nil
}

// save renders p as PNG into the output directory.
func (pp *PresencePlotter) save(p *plot.Plot, name string) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return err
	}
	f, err := pp.fs.Create(filepath.Join(pp.outputDir, name))
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
