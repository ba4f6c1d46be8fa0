package features

import (
	"image"

	"golang.org/x/image/draw"
)

// raster is an image resampled to a fixed grid with channel values in [0, 255].
type raster struct {
	w, h int
	// pix holds R, G and B planes in row-major order.
	pix [3][]float64
}

// rasterize scales img to w x h with bilinear interpolation.
func rasterize(img image.Image, w, h int) *raster {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	r := &raster{w: w, h: h}
	for c := range r.pix {
		r.pix[c] = make([]float64, w*h)
	}
	for i := 0; i < w*h; i++ {
		r.pix[0][i] = float64(dst.Pix[4*i])
		r.pix[1][i] = float64(dst.Pix[4*i+1])
		r.pix[2][i] = float64(dst.Pix[4*i+2])
	}
	return r
}

// luminance returns the ITU-R 601 gray plane.
func (r *raster) luminance() []float64 {
	gray := make([]float64, r.w*r.h)
	for i := range gray {
		gray[i] = 0.2989*r.pix[0][i] + 0.5870*r.pix[1][i] + 0.1140*r.pix[2][i]
	}
	return gray
}

// grayMean returns the mean gray level of img scaled to w x h, in [0, 1].
func grayMean(img image.Image, w, h int) float64 {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	var sum float64
	for _, v := range dst.Pix {
		sum += float64(v)
	}
	return sum / float64(len(dst.Pix)) / 255
}
