package vision

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
)

type MotionConfig struct {
	Sensitivity float64 // changed-area fraction that counts as motion
	GridSize    int     // cells per side of the downsampled luma grid
}

// MotionDetector scores frame-to-frame change for one camera by
// comparing downsampled grayscale grids. Cheap enough to run on every
// frame, independent of the detection backend.
type MotionDetector struct {
	cfg  MotionConfig
	mu   sync.Mutex
	prev []float64
}

func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	if cfg.GridSize <= 0 {
		cfg.GridSize = 32
	}
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 0.02
	}
	return &MotionDetector{cfg: cfg}
}

// Process decodes the JPEG frame and returns (motion detected, score).
// The score is the fraction of grid cells whose mean luma changed by
// more than the per-cell threshold since the previous frame. The first
// frame never reports motion.
func (m *MotionDetector) Process(frameData []byte) (bool, float64, error) {
	img, err := jpeg.Decode(bytes.NewReader(frameData))
	if err != nil {
		return false, 0, err
	}

	grid := lumaGrid(img, m.cfg.GridSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.prev
	m.prev = grid
	if prev == nil || len(prev) != len(grid) {
		return false, 0, nil
	}

	const cellThreshold = 25.0 // 8-bit luma delta that marks a cell changed
	changed := 0
	for i := range grid {
		d := grid[i] - prev[i]
		if d < 0 {
			d = -d
		}
		if d > cellThreshold {
			changed++
		}
	}

	score := float64(changed) / float64(len(grid))
	return score > m.cfg.Sensitivity, score, nil
}

// Reset clears the reference frame, e.g. after a reconnect, so the first
// frame of the new stream does not register as motion.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	m.prev = nil
	m.mu.Unlock()
}

// lumaGrid downsamples the image to size×size mean-luma cells.
func lumaGrid(img image.Image, size int) []float64 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return make([]float64, size*size)
	}

	grid := make([]float64, size*size)
	counts := make([]int, size*size)

	// Sample at most ~4 pixels per cell in each dimension.
	stepX := w / (size * 2)
	if stepX < 1 {
		stepX = 1
	}
	stepY := h / (size * 2)
	if stepY < 1 {
		stepY = 1
	}

	for y := 0; y < h; y += stepY {
		cy := y * size / h
		for x := 0; x < w; x += stepX {
			cx := x * size / w
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// ITU-R BT.601 luma from 16-bit channels.
			luma := (0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8))
			idx := cy*size + cx
			grid[idx] += luma
			counts[idx]++
		}
	}

	for i := range grid {
		if counts[i] > 0 {
			grid[i] /= float64(counts[i])
		}
	}
	return grid
}
