package vision

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/nvr/internal/models"
)

// newStubONNX builds a detector around a fake model run so the tensor
// handling can be exercised without ONNX Runtime. The stub writes one
// anchor per run: a person box centered in the model input.
func newStubONNX(run func(d *ONNXDetector) error) *ONNXDetector {
	const (
		inputW     = 64
		inputH     = 64
		numAnchors = 4
	)
	labels := []string{"person", "car"}
	d := &ONNXDetector{
		input:      make([]float32, 3*inputH*inputW),
		output:     make([]float32, (4+len(labels))*numAnchors),
		labels:     labels,
		threshold:  0.5,
		inputW:     inputW,
		inputH:     inputH,
		numAnchors: numAnchors,
	}
	d.run = func() error { return run(d) }
	return d
}

// writePerson fills the output block with a single qualifying anchor:
// cx=32, cy=32, w=16, h=16 in model-input coordinates, class 0 at 0.9.
func writePerson(d *ONNXDetector) {
	n := d.numAnchors
	for i := range d.output {
		d.output[i] = 0
	}
	d.output[0*n+0] = 32
	d.output[1*n+0] = 32
	d.output[2*n+0] = 16
	d.output[3*n+0] = 16
	d.output[(4+0)*n+0] = 0.9
}

func jpegFrame(t *testing.T) models.Frame {
	t.Helper()
	return models.Frame{
		CameraID:  uuid.New(),
		Timestamp: time.Now(),
		Data:      solidJPEG(t, 128),
	}
}

func TestDetectDecodesModelOutput(t *testing.T) {
	d := newStubONNX(func(d *ONNXDetector) error {
		writePerson(d)
		return nil
	})

	objects, err := d.Detect(context.Background(), jpegFrame(t))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}
	obj := objects[0]
	if obj.Label != "person" {
		t.Errorf("label %q, want person", obj.Label)
	}
	if obj.Confidence < 0.89 || obj.Confidence > 0.91 {
		t.Errorf("confidence %v, want 0.9", obj.Confidence)
	}
	// Source frame is 128x128 against a 64x64 model input: boxes scale
	// by 2, so (24,24)-(40,40) becomes (48,48)-(80,80).
	want := models.BoundingBox{48, 48, 80, 80}
	for i := range want {
		if diff := obj.BBox[i] - want[i]; diff < -0.5 || diff > 0.5 {
			t.Errorf("bbox[%d] = %v, want %v", i, obj.BBox[i], want[i])
		}
	}
}

// One session owns one tensor pair; concurrent Detect calls must take
// turns through it even when the adapter's concurrency ceiling lets
// several callers in at once.
func TestDetectSerializesInference(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	d := newStubONNX(func(d *ONNXDetector) error {
		n := inFlight.Add(1)
		for {
			max := maxSeen.Load()
			if n <= max || maxSeen.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		writePerson(d)
		inFlight.Add(-1)
		return nil
	})

	frame := jpegFrame(t)
	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				objects, err := d.Detect(context.Background(), frame)
				if err != nil {
					t.Errorf("Detect: %v", err)
					return
				}
				if len(objects) != 1 || objects[0].Label != "person" {
					t.Errorf("corrupted result: %+v", objects)
					return
				}
			}
		}()
	}
	wg.Wait()

	if max := maxSeen.Load(); max > 1 {
		t.Errorf("model ran %d inferences concurrently, want serialized", max)
	}
}
