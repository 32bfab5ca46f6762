package face

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/logger"
)

// Output tensor order of an SSD detection model with the TFLite_Detection_PostProcess op.
const (
	outputBoxes = iota
	outputClasses
	outputScores
	outputCount
	numDetectionOutputs
)

// TFLiteConfig configures a TFLiteModel.
type TFLiteConfig struct {
	ModelPath      string
	Threads        int     // 0 derives from CPU topology
	ScoreThreshold float64 // detections below are ignored
	FaceClass      int     // class id of faces, -1 accepts every class
}

// TFLiteModel runs an SSD-style face detector with post-processed outputs:
// boxes [1,N,4] as ymin,xmin,ymax,xmax normalized, classes [1,N], scores [1,N]
// and count [1]. Inputs may be float32 in [-1,1] or uint8.
type TFLiteModel struct {
	cfg         TFLiteConfig
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter

	inputW, inputH int
	inputType      tflite.TensorType

	mu sync.Mutex
}

// NewTFLiteLoader returns a Loader for ModelService.
func NewTFLiteLoader(cfg TFLiteConfig) Loader {
	return func(context.Context) (Model, error) {
		return NewTFLiteModel(cfg)
	}
}

// NewTFLiteModel loads the model file and allocates the interpreter.
func NewTFLiteModel(cfg TFLiteConfig) (*TFLiteModel, error) {
	start := time.Now()
	log := GetLogger()

	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("face").
			Category(errors.CategoryModelLoad).
			Context("model_path", cfg.ModelPath).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model %s", cfg.ModelPath).
			Component("face").
			Category(errors.CategoryModelInit).
			Context("model_size_kb", len(data)/1024).
			Build()
	}

	threads := determineThreadCount(cfg.Threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Component("face").
			Category(errors.CategoryModelInit).
			Build()
	}

	m := &TFLiteModel{cfg: cfg, model: model, options: options, interpreter: interpreter}
	if err := m.inspect(); err != nil {
		_ = m.Close()
		return nil, err
	}

	log.Info("face detection model initialized",
		logger.String("model", cfg.ModelPath),
		logger.Int("threads", threads),
		logger.Int("input_width", m.inputW),
		logger.Int("input_height", m.inputH),
		logger.Duration("init_time", time.Since(start)))
	return m, nil
}

// inspect allocates tensors and validates the model's input and output shape.
func (m *TFLiteModel) inspect() error {
	if status := m.interpreter.AllocateTensors(); status != tflite.OK {
		return errors.Newf("tensor allocation failed: %v", status).
			Component("face").
			Category(errors.CategoryModelInit).
			Build()
	}

	input := m.interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 || input.Dim(3) != 3 {
		return errors.Newf("face model input must be [1,H,W,3]").
			Component("face").
			Category(errors.CategoryModelInit).
			Build()
	}
	m.inputH, m.inputW = input.Dim(1), input.Dim(2)
	m.inputType = input.Type()
	if m.inputType != tflite.Float32 && m.inputType != tflite.UInt8 {
		return errors.Newf("unsupported input tensor type %v", m.inputType).
			Component("face").
			Category(errors.CategoryModelInit).
			Build()
	}

	if n := m.interpreter.GetOutputTensorCount(); n < numDetectionOutputs {
		return errors.Newf("face model has %d outputs, want boxes, classes, scores and count", n).
			Component("face").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

// EstimateFaces runs one inference. Calls are serialized.
func (m *TFLiteModel) EstimateFaces(ctx context.Context, frame image.Image) ([]BoundingBox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, fmt.Errorf("face model closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := m.interpreter.GetInputTensor(0)
	switch m.inputType {
	case tflite.Float32:
		fillFloat32Input(input.Float32s(), frame, m.inputW, m.inputH)
	case tflite.UInt8:
		fillUint8Input(input.UInt8s(), frame, m.inputW, m.inputH)
	}

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tensor invoke failed: %v", status).
			Component("face").
			Category(errors.CategoryInference).
			Build()
	}

	boxes := m.interpreter.GetOutputTensor(outputBoxes).Float32s()
	classes := m.interpreter.GetOutputTensor(outputClasses).Float32s()
	scores := m.interpreter.GetOutputTensor(outputScores).Float32s()
	count := m.interpreter.GetOutputTensor(outputCount).Float32s()
	if len(count) == 0 {
		return nil, nil
	}

	return decodeDetections(boxes, classes, scores, int(count[0]), frame.Bounds(), m.cfg.ScoreThreshold, m.cfg.FaceClass), nil
}

// Close releases the interpreter and model.
func (m *TFLiteModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
	return nil
}

// decodeDetections converts post-processed SSD outputs into boxes in frame coordinates.
func decodeDetections(boxes, classes, scores []float32, count int, bounds image.Rectangle, minScore float64, faceClass int) []BoundingBox {
	count = min(count, len(scores), len(classes), len(boxes)/4)
	var out []BoundingBox
	for i := range count {
		score := float64(scores[i])
		if score < minScore {
			continue
		}
		if faceClass >= 0 && int(classes[i]) != faceClass {
			continue
		}
		ymin, xmin, ymax, xmax := boxes[i*4], boxes[i*4+1], boxes[i*4+2], boxes[i*4+3]
		rect := image.Rect(
			bounds.Min.X+int(clamp01(xmin)*float32(bounds.Dx())),
			bounds.Min.Y+int(clamp01(ymin)*float32(bounds.Dy())),
			bounds.Min.X+int(clamp01(xmax)*float32(bounds.Dx())),
			bounds.Min.Y+int(clamp01(ymax)*float32(bounds.Dy())),
		)
		if rect.Empty() {
			continue
		}
		out = append(out, BoundingBox{Rectangle: rect, Score: score})
	}
	return out
}

func clamp01(v float32) float32 {
	return max(0, min(1, v))
}
