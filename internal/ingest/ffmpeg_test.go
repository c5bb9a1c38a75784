package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpeg(body string) []byte {
	return append(append([]byte{0xFF, 0xD8}, body...), 0xFF, 0xD9)
}

func collect(t *testing.T, r *bytes.Reader, max int) ([][]byte, error) {
	t.Helper()
	var got [][]byte
	_, err := ReadFrames(context.Background(), r, max, func(_ context.Context, f []byte) error {
		got = append(got, f)
		return nil
	})
	return got, err
}

func TestReadFramesSplitsConcatenatedJPEGs(t *testing.T) {
	var stream []byte
	stream = append(stream, "garbage"...)
	stream = append(stream, jpeg("one")...)
	stream = append(stream, jpeg("two\xFF\x00stuffed")...)
	stream = append(stream, 0xFF, 0xD8, 't', 'r', 'u', 'n', 'c')

	got, err := collect(t, bytes.NewReader(stream), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, jpeg("one"), got[0])
	assert.Equal(t, jpeg("two\xFF\x00stuffed"), got[1])
}

func TestReadFramesAcrossSmallReads(t *testing.T) {
	stream := append(jpeg(strings.Repeat("a", 100)), jpeg("b")...)
	var got int
	n, err := ReadFrames(context.Background(), iotest.OneByteReader(bytes.NewReader(stream)), 0,
		func(context.Context, []byte) error { got++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, got)
}

func TestReadFramesRejectsOversizedFrame(t *testing.T) {
	_, err := collect(t, bytes.NewReader(jpeg(strings.Repeat("x", 4096))), 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 1024 bytes")
}

func TestReadFramesContinuesAfterCallbackError(t *testing.T) {
	stream := append(jpeg("a"), jpeg("b")...)
	calls := 0
	n, err := ReadFrames(context.Background(), bytes.NewReader(stream), 0, func(context.Context, []byte) error {
		calls++
		return errors.New("disk full")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls)
}

func TestGrabberArgs(t *testing.T) {
	g := Grabber{FPS: 2, Width: 640}

	rtsp := strings.Join(g.args("rtsp://cam/stream"), " ")
	assert.Contains(t, rtsp, "-rtsp_transport tcp")
	assert.Contains(t, rtsp, "fps=2,scale=640:-1")

	httpArgs := strings.Join(g.args("https://cam/mjpeg"), " ")
	assert.Contains(t, httpArgs, "-reconnect 1")
	assert.NotContains(t, httpArgs, "rtsp_transport")
}
