//go:build !onnxruntime

package detect

import (
	"errors"
	"image"
)

// runONNX is unavailable in the default build (no onnxruntime shared
// library linked); every caller falls back to smartMockDetect.
func runONNX(img image.Image, confidenceFloor float64) ([]Detection, error) {
	return nil, errors.New("detect: built without the onnxruntime tag")
}
