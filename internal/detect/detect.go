// Package detect runs a pre-trained vehicle detector on one image and
// returns car boxes plus per-box features: a lazy mutex-guarded singleton
// loader with a real-vs-mock fallback, restricted to vehicle classes.
package detect

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/technosupport/parking-capture/internal/metrics"
)

// ClassID mirrors the restricted vehicle classes this wrapper returns.
type ClassID int

const (
	ClassCar        ClassID = 3
	ClassMotorcycle ClassID = 4
	ClassBus        ClassID = 6
	ClassTruck      ClassID = 8
)

// Box is a detection region in original-image pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Detection is one accepted vehicle detector output.
type Detection struct {
	Box        Box
	Confidence float64
	ClassID    ClassID
}

// Detector lazily probes modelDir once, behind a sync.Once, so concurrent
// first callers share a single probe. It never downloads weights: it only
// checks which runtime and model files are already present in modelDir.
type Detector struct {
	modelDir string

	mu           sync.Mutex
	initOnce     sync.Once
	modelReady   bool
	usingOnnx    bool
}

// New returns a Detector that will probe modelDir for weights on first
// use.
func New(modelDir string) *Detector {
	return &Detector{modelDir: modelDir}
}

func (d *Detector) ensureInit() {
	d.initOnce.Do(func() {
		d.modelReady, d.usingOnnx = probeModel(d.modelDir)
	})
}

// probeModel checks for an ONNX runtime shared library and model weights
// under modelDir.
func probeModel(modelDir string) (ready, hasRuntime bool) {
	runtimeCandidates := []string{
		filepath.Join(modelDir, "onnxruntime.so"),
		filepath.Join(modelDir, "onnxruntime.dll"),
		filepath.Join(modelDir, "libonnxruntime.so"),
	}
	modelCandidates := []string{
		filepath.Join(modelDir, "yolov8n.onnx"),
		filepath.Join(modelDir, "yolov8n.pt"),
		filepath.Join(modelDir, "vehicle-detector.onnx"),
	}

	hasRuntime = fileExists(runtimeCandidates...)
	hasModel := fileExists(modelCandidates...)
	return hasRuntime && hasModel, hasRuntime && hasModel
}

func fileExists(candidates ...string) bool {
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}

// MinConfidenceFloor is the absolute floor below which the wrapper never
// returns a detection, independent of the caller's stall-match floor — night
// mode can drop the inference floor down to this value but no lower.
const MinConfidenceFloor = 0.1

// Detect runs vehicle detection on imagePath. brightness comes from
// internal/quality and decides whether night-mode enhancement runs before
// inference (brightness < 120) and whether the inference confidence floor
// is relaxed to 0.1.
func (d *Detector) Detect(imagePath string, brightness float64) ([]Detection, error) {
	d.ensureInit()

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("detect: open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("detect: decode image: %w", err)
	}

	nightMode := brightness < 120
	if nightMode {
		img = Enhance(img, brightness)
	}

	confidenceFloor := 0.5
	if nightMode {
		confidenceFloor = MinConfidenceFloor
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var dets []Detection
	if d.modelReady && d.usingOnnx {
		dets, err = runONNX(img, confidenceFloor)
		if err != nil {
			metrics.DetectorMockFallback.Inc()
			dets = smartMockDetect(img, confidenceFloor)
		}
	} else {
		metrics.DetectorMockFallback.Inc()
		dets = smartMockDetect(img, confidenceFloor)
	}

	metrics.DetectionsTotal.WithLabelValues("ok").Inc()
	return dets, nil
}
