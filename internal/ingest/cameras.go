package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stableguard/stableguard/internal/config"
	"github.com/stableguard/stableguard/internal/observability"
)

const (
	minBackoff = 2 * time.Second
	maxBackoff = 2 * time.Minute
)

// Cameras feeds frames from every configured camera into the ingestion
// service. A failing camera is retried with exponential backoff forever;
// it never affects the others.
type Cameras struct {
	svc     *Service
	grabber Grabber

	// run is swapped in tests.
	run func(ctx context.Context, g Grabber, url string, fn FrameFunc) error

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewCameras(svc *Service, cfg config.IngestConfig) *Cameras {
	return &Cameras{
		svc: svc,
		grabber: Grabber{
			FPS:           cfg.FPS,
			Width:         cfg.FrameWidth,
			MaxFrameBytes: cfg.MaxFrameMiB << 20,
		},
		run: func(ctx context.Context, g Grabber, url string, fn FrameFunc) error {
			return g.Run(ctx, url, fn)
		},
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches one goroutine per camera. Cameras already running are
// left alone.
func (c *Cameras) Start(ctx context.Context, cams []config.CameraConfig) {
	for _, cam := range cams {
		c.mu.Lock()
		if _, ok := c.running[cam.ID]; ok {
			c.mu.Unlock()
			continue
		}
		camCtx, cancel := context.WithCancel(ctx)
		c.running[cam.ID] = cancel
		c.mu.Unlock()

		c.wg.Add(1)
		observability.ActiveCameras.Inc()
		go func(cam config.CameraConfig) {
			defer c.wg.Done()
			defer observability.ActiveCameras.Dec()
			defer func() {
				c.mu.Lock()
				delete(c.running, cam.ID)
				c.mu.Unlock()
			}()
			c.loop(camCtx, cam)
		}(cam)
	}
}

func (c *Cameras) loop(ctx context.Context, cam config.CameraConfig) {
	g := c.grabber
	if cam.FPS > 0 {
		g.FPS = cam.FPS
	}
	log := slog.With("camera_id", cam.ID)
	log.Info("camera ingestion started", "fps", g.FPS)

	onFrame := func(ctx context.Context, jpeg []byte) error {
		_, err := c.svc.Ingest(ctx, Frame{
			CameraID: cam.ID,
			Filename: "frame.jpg",
			Data:     jpeg,
		})
		return err
	}

	backoff := minBackoff
	for {
		start := time.Now()
		err := c.run(ctx, g, cam.URL, onFrame)
		if ctx.Err() != nil {
			log.Info("camera ingestion stopped")
			return
		}
		// A stream that ran for a while earns a fresh backoff.
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		log.Warn("camera stream ended, retrying", "error", err, "delay", backoff)

		select {
		case <-ctx.Done():
			log.Info("camera ingestion stopped")
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Running returns the number of active camera loops.
func (c *Cameras) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// StopAll cancels every camera and waits for the loops to exit.
func (c *Cameras) StopAll() {
	c.mu.Lock()
	for _, cancel := range c.running {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
