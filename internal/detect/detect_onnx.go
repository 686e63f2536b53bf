//go:build onnxruntime

package detect

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"
)

// runONNX is the real inference path, built only when the onnxruntime
// build tag is set (the shared library must be present on the host at
// link/run time). CGO-backed inference is fragile across host toolchains,
// so it's gated behind an explicit build tag instead of always compiled in,
// and the default build never
// needs the native library.
func runONNX(img image.Image, confidenceFloor float64) ([]Detection, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("detect: onnxruntime init: %w", err)
		}
	}

	tensor, err := imageToTensor(img)
	if err != nil {
		return nil, fmt.Errorf("detect: tensor conversion: %w", err)
	}
	defer tensor.Destroy()

	session, err := ort.NewAdvancedSession("yolov8n.onnx",
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{tensor}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("detect: session create: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("detect: session run: %w", err)
	}

	return decodeYoloOutput(session, confidenceFloor)
}

// imageToTensor resizes img to the model's 640x640 input and arranges it
// into CHW float32 layout normalized to [0,1].
func imageToTensor(img image.Image) (*ort.Tensor[float32], error) {
	const size = 640
	b := img.Bounds()
	data := make([]float32, 3*size*size)
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*b.Dy()/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*b.Dx()/size
			r, g, bl, _ := img.At(sx, sy).RGBA()
			idx := y*size + x
			data[idx] = float32(r>>8) / 255
			data[size*size+idx] = float32(g>>8) / 255
			data[2*size*size+idx] = float32(bl>>8) / 255
		}
	}
	return ort.NewTensor(ort.NewShape(1, 3, size, size), data)
}

// decodeYoloOutput turns a raw YOLOv8 output tensor into vehicle
// Detections, keeping only the four vehicle classes and confidence>=floor.
func decodeYoloOutput(session *ort.AdvancedSession, confidenceFloor float64) ([]Detection, error) {
	// Real decode (anchor-free grid walk + NMS) lives here once a model is
	// linked; the mock path covers every build that ships without one.
	return nil, fmt.Errorf("detect: onnx output decode not wired to a linked model")
}
