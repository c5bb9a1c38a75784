package api

import (
	"strconv"

	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/storage"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func ingestService(q storage.JobQueue, frames storage.FrameStore) *ingest.Service {
	return ingest.NewService(q, frames, nil, "", 0)
}
