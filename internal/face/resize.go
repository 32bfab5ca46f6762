package face

import (
	"image"

	"golang.org/x/image/draw"
)

// scaleToInput resamples frame to the model input size.
func scaleToInput(frame image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	return dst
}

// fillFloat32Input writes frame resized to w x h as RGB floats in [-1, 1].
func fillFloat32Input(dst []float32, frame image.Image, w, h int) {
	const scale = 1.0 / 127.5
	pix := scaleToInput(frame, w, h).Pix
	for i, p := 0, 0; i+2 < len(dst) && p+2 < len(pix); i, p = i+3, p+4 {
		dst[i] = float32(pix[p])*scale - 1
		dst[i+1] = float32(pix[p+1])*scale - 1
		dst[i+2] = float32(pix[p+2])*scale - 1
	}
}

// fillUint8Input writes frame resized to w x h as RGB bytes.
func fillUint8Input(dst []uint8, frame image.Image, w, h int) {
	pix := scaleToInput(frame, w, h).Pix
	for i, p := 0, 0; i+2 < len(dst) && p+2 < len(pix); i, p = i+3, p+4 {
		dst[i], dst[i+1], dst[i+2] = pix[p], pix[p+1], pix[p+2]
	}
}
