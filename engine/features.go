package engine

import (
	"image"

	iface "EdgeScan/interface"

	"github.com/disintegration/imaging"
)

const maxChannelValue = 255.0

// ExtractFeatures resizes a tile to the model input size (bilinear), applies
// the color mode and scales intensities into [0, 1]. Output is row-major,
// channels interleaved.
func ExtractFeatures(tile iface.Frame, width, height int, mode iface.ColorMode) iface.FeatureVector {
	var img image.Image = tile.ToImage()
	if width > 0 && height > 0 && (width != tile.Width || height != tile.Height) {
		img = imaging.Resize(img, width, height, imaging.Linear)
	}
	if mode == iface.ColorGrayscale {
		gray := imaging.Grayscale(img)
		features := make(iface.FeatureVector, 0, len(gray.Pix)/4)
		for i := 0; i < len(gray.Pix); i += 4 {
			features = append(features, float32(gray.Pix[i])/maxChannelValue)
		}
		return features
	}
	nrgba := imaging.Clone(img)
	features := make(iface.FeatureVector, 0, len(nrgba.Pix)/4*3)
	for i := 0; i < len(nrgba.Pix); i += 4 {
		features = append(features,
			float32(nrgba.Pix[i])/maxChannelValue,
			float32(nrgba.Pix[i+1])/maxChannelValue,
			float32(nrgba.Pix[i+2])/maxChannelValue,
		)
	}
	return features
}
