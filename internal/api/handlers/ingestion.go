package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/models"
	"github.com/stableguard/stableguard/internal/storage"
	"github.com/stableguard/stableguard/pkg/dto"
)

type IngestionHandler struct {
	svc        *ingest.Service
	queue      storage.JobQueue
	detections storage.DetectionStore
	resolver   *ScoreResolver
}

func NewIngestionHandler(svc *ingest.Service, queue storage.JobQueue, detections storage.DetectionStore, resolver *ScoreResolver) *IngestionHandler {
	return &IngestionHandler{svc: svc, queue: queue, detections: detections, resolver: resolver}
}

// UploadFrame stores the frame and queues detection. It answers as soon as
// the job is durable; detection runs in a worker.
func (h *IngestionHandler) UploadFrame(c *gin.Context) {
	fh, err := c.FormFile("frame")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing frame file"})
		return
	}
	data, err := readFileHeader(fh)
	if err != nil {
		respondError(c, err)
		return
	}

	var captured *string
	if ts, ok := c.GetPostForm("timestamp"); ok && ts != "" {
		captured = &ts
	}

	r, err := h.svc.Ingest(c.Request.Context(), ingest.Frame{
		CameraID:   c.PostForm("camera_id"),
		CapturedAt: captured,
		Filename:   fh.Filename,
		Data:       data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FrameReceipt{
		OK:         true,
		EventID:    r.EventID,
		JobID:      r.JobID,
		CameraID:   r.CameraID,
		Timestamp:  r.Timestamp,
		ReceivedAt: r.ReceivedAt,
		SavedPath:  r.SavedPath,
		SizeBytes:  r.SizeBytes,
	})
}

func (h *IngestionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "service": "ingestion"})
}

func (h *IngestionHandler) GetEvent(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ev, err := h.queue.GetIngestionEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIngestionEventResponse(ev))
}

func (h *IngestionHandler) EventDetections(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	dets, err := h.detections.ListDetections(c.Request.Context(), models.DetectionFilter{EventID: &id})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EventDetectionsResponse{
		EventID:    id,
		Detections: h.resolver.Responses(c.Request.Context(), dets),
	})
}

func (h *IngestionHandler) GetJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.queue.GetJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewJobResponse(job))
}

// Resubmit queues a new pending job for the event behind a failed job.
func (h *IngestionHandler) Resubmit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	next, err := ingest.Resubmit(c.Request.Context(), h.queue, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewJobResponse(next))
}

func (h *IngestionHandler) QueueStats(c *gin.Context) {
	counts, err := h.queue.CountJobs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := map[string]int{}
	for _, s := range []models.JobStatus{models.JobPending, models.JobProcessing, models.JobDone, models.JobFailed} {
		out[string(s)] = counts[s]
	}
	c.JSON(http.StatusOK, out)
}
