package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FrameFunc receives each JPEG frame read from a camera.
type FrameFunc func(ctx context.Context, jpeg []byte) error

// Grabber pulls JPEG frames from one camera URL through ffmpeg.
type Grabber struct {
	FFmpegPath    string
	FPS           int
	Width         int
	MaxFrameBytes int
}

func (g Grabber) args(url string) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	switch {
	case strings.HasPrefix(url, "rtsp://"), strings.HasPrefix(url, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	}

	return append(args,
		"-i", url,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-1", g.FPS, g.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
}

// Run blocks until the stream ends or ctx is cancelled, calling fn for every
// frame. A callback error is logged and the stream continues.
func (g Grabber) Run(ctx context.Context, url string, fn FrameFunc) error {
	bin := g.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, g.args(url)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			slog.Warn("ffmpeg stderr", "output", sc.Text())
		}
	}()

	frames, readErr := ReadFrames(ctx, stdout, g.MaxFrameBytes, fn)
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case readErr != nil:
		return fmt.Errorf("read frames: %w", readErr)
	case frames == 0:
		return errors.New("no frames received from ffmpeg")
	case waitErr != nil:
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil
}

// ReadFrames splits a stream of concatenated JPEG images and hands each to
// fn. It returns the number of frames read.
func ReadFrames(ctx context.Context, r io.Reader, maxFrameBytes int, fn FrameFunc) (int, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 10 << 20
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(512<<10, maxFrameBytes)), maxFrameBytes)
	sc.Split(splitJPEG)

	n := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return n, nil
		}
		n++
		frame := bytes.Clone(sc.Bytes())
		if err := fn(ctx, frame); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
	if errors.Is(sc.Err(), bufio.ErrTooLong) {
		return n, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
	}
	return n, sc.Err()
}

// splitJPEG is a bufio.SplitFunc yielding SOI..EOI byte ranges. Bytes
// before an SOI marker are discarded; a truncated trailing frame is dropped.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF, it may begin the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
