package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/nvr/internal/models"
)

// ONNXDetector runs a single-output YOLO-style object detection model
// through ONNX Runtime. Output layout: [1, 4+numClasses, numAnchors]
// with boxes as cx, cy, w, h in input-pixel coordinates.
//
// The session binds one input/output tensor pair, so inference is
// serialized by runMu; the adapter may still run preprocessing for
// several frames in parallel.
type ONNXDetector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	runMu  sync.Mutex
	input  []float32    // inputTensor backing data
	output []float32    // outputTensor backing data
	run    func() error // session.Run

	labels     []string
	threshold  float32
	inputW     int
	inputH     int
	numAnchors int
}

const onnxInputSize = 640

// NewONNXDetector loads the model. labels maps class index to name;
// opts may be nil for ORT defaults.
func NewONNXDetector(modelPath string, labels []string, threshold float32, opts *ort.SessionOptions) (*ONNXDetector, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("onnx detector: no labels configured")
	}

	inputW, inputH := onnxInputSize, onnxInputSize
	numAnchors := (inputW / 8 * inputH / 8) + (inputW / 16 * inputH / 16) + (inputW / 32 * inputH / 32)

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(4+len(labels)), int64(numAnchors))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &ONNXDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		input:        inputTensor.GetData(),
		output:       outputTensor.GetData(),
		run:          session.Run,
		labels:       labels,
		threshold:    threshold,
		inputW:       inputW,
		inputH:       inputH,
		numAnchors:   numAnchors,
	}, nil
}

// Detect decodes the frame, runs the model, and returns detections in
// original-image pixel coordinates.
func (d *ONNXDetector) Detect(ctx context.Context, frame models.Frame) ([]models.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	input := imageToFloat32CHW(img, d.inputW, d.inputH)

	// ORT sessions do not take a context; honor cancellation between
	// the decode and the (bounded) inference call.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return d.infer(input, origW, origH)
}

// infer owns the tensor pair for the duration of one model run.
func (d *ONNXDetector) infer(input []float32, origW, origH int) ([]models.Object, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	copy(d.input, input)
	if err := d.run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	objects := d.parseOutput(origW, origH)
	return nms(objects, 0.45), nil
}

// parseOutput decodes the [4+numClasses, numAnchors] prediction block.
// Called with runMu held.
func (d *ONNXDetector) parseOutput(origW, origH int) []models.Object {
	data := d.output
	n := d.numAnchors
	numClasses := len(d.labels)

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	var objects []models.Object
	for i := 0; i < n; i++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 0; c < numClasses; c++ {
			score := data[(4+c)*n+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < d.threshold {
			continue
		}

		cx := data[0*n+i]
		cy := data[1*n+i]
		w := data[2*n+i]
		h := data[3*n+i]

		x1 := clampF((cx-w/2)*scaleW, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleH, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleW, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleH, 0, float32(origH))

		objects = append(objects, models.Object{
			Label:      d.labels[bestClass],
			Confidence: bestScore,
			BBox:       models.BoundingBox{x1, y1, x2, y2},
		})
	}
	return objects
}

func (d *ONNXDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(objects []models.Object, iouThreshold float32) []models.Object {
	if len(objects) == 0 {
		return objects
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Confidence > objects[j].Confidence
	})

	keep := make([]bool, len(objects))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(objects); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(objects); j++ {
			if !keep[j] {
				continue
			}
			if objects[i].Label == objects[j].Label && iou(objects[i].BBox, objects[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.Object
	for i, o := range objects {
		if keep[i] {
			result = append(result, o)
		}
	}
	return result
}

func iou(a, b models.BoundingBox) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// imageToFloat32CHW converts an image to CHW float32 format scaled to
// [0, 1], resizing to the model input size.
func imageToFloat32CHW(img image.Image, targetW, targetH int) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			idx := y*w + x
			data[0*h*w+idx] = float32(r>>8) / 255.0
			data[1*h*w+idx] = float32(g>>8) / 255.0
			data[2*h*w+idx] = float32(b>>8) / 255.0
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == targetW && srcH == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}
