package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// solidJPEG encodes a 128x128 frame of the given gray level.
func solidJPEG(t *testing.T, level uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// halfJPEG encodes a frame whose left half is dark and right half bright.
func halfJPEG(t *testing.T, left, right uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			level := left
			if x >= 64 {
				level = right
			}
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestFirstFrameNeverMotion(t *testing.T) {
	m := NewMotionDetector(MotionConfig{Sensitivity: 0.01, GridSize: 16})
	motion, score, err := m.Process(solidJPEG(t, 200))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if motion || score != 0 {
		t.Errorf("first frame reported motion (score %f)", score)
	}
}

func TestStaticSceneNoMotion(t *testing.T) {
	m := NewMotionDetector(MotionConfig{Sensitivity: 0.01, GridSize: 16})
	frame := solidJPEG(t, 120)
	m.Process(frame)
	motion, score, err := m.Process(frame)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if motion {
		t.Errorf("static scene reported motion (score %f)", score)
	}
}

func TestSceneChangeReportsMotion(t *testing.T) {
	m := NewMotionDetector(MotionConfig{Sensitivity: 0.05, GridSize: 16})
	m.Process(solidJPEG(t, 30))
	motion, score, err := m.Process(solidJPEG(t, 220))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !motion {
		t.Errorf("full scene change not detected (score %f)", score)
	}
	if score < 0.9 {
		t.Errorf("expected near-total change, score %f", score)
	}
}

func TestPartialChangeScore(t *testing.T) {
	m := NewMotionDetector(MotionConfig{Sensitivity: 0.05, GridSize: 16})
	m.Process(solidJPEG(t, 40))
	// Right half jumps from 40 to 200, left half stays.
	motion, score, err := m.Process(halfJPEG(t, 40, 200))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !motion {
		t.Errorf("half-frame change not detected (score %f)", score)
	}
	if score < 0.3 || score > 0.7 {
		t.Errorf("expected roughly half the cells changed, score %f", score)
	}
}

func TestResetClearsReference(t *testing.T) {
	m := NewMotionDetector(MotionConfig{Sensitivity: 0.01, GridSize: 16})
	m.Process(solidJPEG(t, 20))
	m.Reset()
	motion, _, err := m.Process(solidJPEG(t, 240))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if motion {
		t.Error("frame after Reset reported motion against stale reference")
	}
}

func TestInvalidJPEG(t *testing.T) {
	m := NewMotionDetector(MotionConfig{})
	if _, _, err := m.Process([]byte("not a jpeg")); err == nil {
		t.Error("expected decode error for invalid data")
	}
}
