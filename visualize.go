package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the visualization sink: raster output of inputs
// next to their reconstructions, generated-sample grids, and figures
// (loss curves, latent scatter) rendered with gonum/plot.
//
// Two kinds of output, deliberately kept separate:
//   - Pixels: image/png strips and grids. The tensor already IS an
//     image; a plotting library would only get in the way.
//   - Figures: anything with axes goes through gonum/plot.
//
// The training loop also records its loss history as CSV next to the
// checkpoint, so figures can be regenerated after the fact without
// retraining.
//
// ===========================================================================

import (
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// grayImage renders image index of an (N, H, W, C) tensor as grayscale,
// averaging channels and clamping to [0, 1].
func grayImage(t *Tensor, index int) *image.Gray {
	if len(t.shape) != 4 {
		panic("viz: grayImage requires NHWC tensor")
	}

	h, w, c := t.shape[1], t.shape[2], t.shape[3]
	img := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.0
			for ch := 0; ch < c; ch++ {
				v += t.At(index, y, x, ch)
			}
			v /= float64(c)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}

	return img
}

// WriteComparisonPNG writes one input image and its reconstruction
// side by side, separated by a one-pixel gap, for visual comparison.
func WriteComparisonPNG(path string, input, recon *Tensor, index int) error {
	left := grayImage(input, index)
	right := grayImage(recon, index)

	h := left.Bounds().Dy()
	w := left.Bounds().Dx()
	out := image.NewGray(image.Rect(0, 0, 2*w+1, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(x, y, left.GrayAt(x, y))
			out.SetGray(w+1+x, y, right.GrayAt(x, y))
		}
	}

	return writePNG(path, out)
}

// WriteGridPNG writes an (N, H, W, C) batch as a grid with the given
// number of columns and one-pixel gaps.
func WriteGridPNG(path string, images *Tensor, cols int) error {
	n, h, w := images.shape[0], images.shape[1], images.shape[2]
	if cols <= 0 {
		cols = 1
	}
	rows := (n + cols - 1) / cols

	out := image.NewGray(image.Rect(0, 0, cols*(w+1)-1, rows*(h+1)-1))
	for i := 0; i < n; i++ {
		tile := grayImage(images, i)
		ox := (i % cols) * (w + 1)
		oy := (i / cols) * (h + 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetGray(ox+x, oy+y, tile.GrayAt(x, y))
			}
		}
	}

	return writePNG(path, out)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating image file")
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return errors.Wrap(err, "encoding png")
	}
	return nil
}

// WriteHistoryCSV persists the logged loss history as CSV
// (step, total, recon, kl) so figures can be regenerated later.
func WriteHistoryCSV(path string, history []LossPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating history file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "total", "recon", "kl"}); err != nil {
		return errors.Wrap(err, "writing header")
	}
	for _, p := range history {
		rec := []string{
			strconv.Itoa(p.Step),
			strconv.FormatFloat(p.Total, 'g', -1, 64),
			strconv.FormatFloat(p.Recon, 'g', -1, 64),
			strconv.FormatFloat(p.KL, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, "writing record")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing history")
}

// ReadHistoryCSV reads a loss history written by WriteHistoryCSV.
func ReadHistoryCSV(path string) ([]LossPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening history file")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading history")
	}
	if len(records) < 2 {
		return nil, nil
	}

	history := make([]LossPoint, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 4 {
			return nil, errors.Errorf("history row %d has %d fields, want 4", i+1, len(rec))
		}
		step, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, errors.Wrapf(err, "history row %d step", i+1)
		}
		vals := [3]float64{}
		for j := 0; j < 3; j++ {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "history row %d field %d", i+1, j+1)
			}
			vals[j] = v
		}
		history = append(history, LossPoint{Step: step, Total: vals[0], Recon: vals[1], KL: vals[2]})
	}
	return history, nil
}

// PlotLossHistory renders total, reconstruction, and KL loss curves to
// a PNG figure.
func PlotLossHistory(path string, history []LossPoint) error {
	p := plot.New()

	p.Title.Text = "Training loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "loss"

	series := []struct {
		name  string
		color color.RGBA
		pick  func(LossPoint) float64
	}{
		{"total", color.RGBA{A: 255}, func(lp LossPoint) float64 { return lp.Total }},
		{"recon", color.RGBA{B: 255, A: 255}, func(lp LossPoint) float64 { return lp.Recon }},
		{"kl", color.RGBA{R: 255, A: 255}, func(lp LossPoint) float64 { return lp.KL }},
	}

	for _, s := range series {
		pts := make(plotter.XYs, len(history))
		for i, lp := range history {
			pts[i] = plotter.XY{X: float64(lp.Step), Y: s.pick(lp)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "building %s series", s.name)
		}
		line.Color = s.color
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	return errors.Wrap(p.Save(8*vg.Inch, 5*vg.Inch, path), "saving loss figure")
}

// PlotLatentScatter renders the first two latent dimensions of a batch
// of encoded means as a scatter figure.
func PlotLatentScatter(path string, means *Tensor) error {
	if len(means.shape) != 2 || means.shape[1] < 2 {
		return errors.Errorf("latent scatter needs (N, >=2) means, got %v", means.Shape())
	}

	pts := make(plotter.XYs, means.shape[0])
	for i := range pts {
		pts[i] = plotter.XY{X: means.At(i, 0), Y: means.At(i, 1)}
	}

	p := plot.New()
	p.Title.Text = "Latent means"
	p.X.Label.Text = fmt.Sprintf("z[0] of %d", means.shape[1])
	p.Y.Label.Text = "z[1]"

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "building scatter")
	}
	scatter.GlyphStyle.Radius = vg.Length(2)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)

	return errors.Wrap(p.Save(6*vg.Inch, 6*vg.Inch, path), "saving scatter figure")
}
