package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ConnectError is a transient failure to establish the stream; the
// supervisor responds with backoff.
type ConnectError struct {
	URI string
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", redactURI(e.URI), e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// StreamError is a transport failure after frames have been flowing; the
// supervisor responds with reconnect.
type StreamError struct {
	URI string
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream %s: %v", redactURI(e.URI), e.Err) }
func (e *StreamError) Unwrap() error { return e.Err }

// FrameCallback receives each decoded JPEG frame. The data buffer is
// only valid for the duration of the call.
type FrameCallback func(data []byte, ts time.Time) error

// Source abstracts one camera connection. Open produces frames at the
// source's native rate until the context is cancelled or the transport
// fails; it never retries internally, so reconnection policy stays with
// the supervisor and the source is testable with a fake transport.
type Source interface {
	// Open blocks while streaming. Returns nil on clean shutdown
	// (context cancelled), *ConnectError if no frame was ever produced,
	// *StreamError on mid-stream transport failure.
	Open(ctx context.Context, cb FrameCallback) error
	Close()
}

// SourceFactory builds a Source for a stream URI. The supervisor takes a
// factory so tests can substitute fake transports.
type SourceFactory func(uri string) Source

// FFmpegSource extracts JPEG frames from an RTSP/HTTP stream by running
// ffmpeg with an image2pipe output, the same transport arrangement used
// for every supported camera protocol.
type FFmpegSource struct {
	uri string

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

func NewFFmpegSource(uri string) Source {
	return &FFmpegSource{uri: uri}
}

func (f *FFmpegSource) Open(ctx context.Context, cb FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(f.uri, "rtsp://") || strings.HasPrefix(f.uri, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000", // 5s RTSP socket timeout (microseconds)
			"-timeout", "5000000",
		)
	} else if strings.HasPrefix(f.uri, "http://") || strings.HasPrefix(f.uri, "https://") {
		args = append(args,
			"-timeout", "10000000",
		)
	}

	args = append(args,
		"-i", f.uri,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ConnectError{URI: f.uri, Err: fmt.Errorf("ffmpeg stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ConnectError{URI: f.uri, Err: fmt.Errorf("ffmpeg stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &ConnectError{URI: f.uri, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	framesRead, err := readJPEGFrames(ctx, stdout, cb)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil // clean shutdown
	}
	if err == nil {
		err = waitErr
	}
	if framesRead == 0 {
		return &ConnectError{URI: f.uri, Err: fmt.Errorf("no frames received: %w", err)}
	}
	if err == nil {
		err = errors.New("stream ended")
	}
	return &StreamError{URI: f.uri, Err: err}
}

// Close terminates the ffmpeg process.
func (f *FFmpegSource) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// readJPEGFrames reads a stream of concatenated JPEG images, invoking cb
// for each complete frame. Returns the number of frames delivered.
func readJPEGFrames(ctx context.Context, r io.Reader, cb FrameCallback) (int, error) {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0

	for {
		if ctx.Err() != nil {
			return framesRead, ctx.Err()
		}

		// Find JPEG start marker: FF D8
		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				return framesRead, nil
			}
			return framesRead, err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF {
				return framesRead, nil // stream ended mid-frame
			}
			return framesRead, err
		}

		if len(frameData) > 0 {
			framesRead++
			if err := cb(frameData, time.Now()); err != nil {
				slog.Warn("frame callback error", "error", err)
			}
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}

// redactURI strips embedded credentials from camera URIs for logs and
// error messages.
func redactURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		return uri
	}
	scheme := strings.Index(uri, "://")
	if scheme < 0 || at < scheme {
		return uri
	}
	return uri[:scheme+3] + "***" + uri[at:]
}
