package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stableguard/stableguard/internal/models"
)

func TestDetectionSubject(t *testing.T) {
	cam := "barn.north cam"
	empty := ""
	tests := []struct {
		name string
		d    models.Detection
		want string
	}{
		{"manual", models.Detection{}, "detections.manual"},
		{"empty camera", models.Detection{CameraID: &empty}, "detections.manual"},
		{"camera sanitised", models.Detection{CameraID: &cam}, "detections.barn_north_cam"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectionSubject(&tt.d))
		})
	}
}

func TestJobSubject(t *testing.T) {
	assert.Equal(t, "jobs.detect", JobSubject("detect"))
	assert.Equal(t, "jobs.re_embed", JobSubject("re.embed"))
	assert.Equal(t, "jobs._", JobSubject(">"))
}
