package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stableguard/stableguard/internal/config"
)

func TestCamerasIngestAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	svc, st, _, _ := newService(t)
	cams := NewCameras(svc, config.IngestConfig{FPS: 1, FrameWidth: 320})

	var calls atomic.Int32
	cams.run = func(ctx context.Context, g Grabber, url string, fn FrameFunc) error {
		calls.Add(1)
		assert.Equal(t, 5, g.FPS)
		_ = fn(ctx, jpeg("frame"))
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cams.Start(ctx, []config.CameraConfig{{ID: "paddock", URL: "rtsp://x", FPS: 5}})
	cams.Start(ctx, []config.CameraConfig{{ID: "paddock", URL: "rtsp://x", FPS: 5}})

	require.Eventually(t, func() bool {
		counts, err := st.CountJobs(context.Background())
		return err == nil && counts["pending"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, cams.Running())

	cams.StopAll()
	assert.Equal(t, 0, cams.Running())
	assert.Equal(t, int32(1), calls.Load())
}
