package correlator

import (
	"time"

	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/models/events"
	"github.com/opensentry/command/src/registry"
)

// Levels holds the detection levels a device reported. Nil means not reported.
type Levels struct {
	Motion  *bool
	Face    *bool
	Objects *bool
}

// Detail annotates the edge events produced by one report.
type Detail struct {
	Confidence *float64
	Objects    []string
	Attributes map[string]interface{}
}

type edgeNames struct {
	start string
	end   string
}

var names = map[registry.Detection]edgeNames{
	registry.DetectionMotion:  {events.DetectionMotionStart, events.DetectionMotionEnd},
	registry.DetectionFace:    {events.DetectionFaceDetected, events.DetectionFaceEnd},
	registry.DetectionObjects: {events.DetectionObjectsDetected, events.DetectionObjectsCleared},
}

// Correlator turns level reports into edge events, once per transition.
type Correlator struct {
	registry *registry.Registry
	now      func() time.Time
}

func New(r *registry.Registry) *Correlator {
	return &Correlator{
		registry: r,
		now:      time.Now,
	}
}

// Apply compares each reported level with the stored one and appends an edge
// event for every level that flipped. It returns the appended events.
func (c *Correlator) Apply(cameraId string, levels Levels, detail Detail) ([]registry.Event, error) {
	var produced []registry.Event
	_, err := c.registry.Update(cameraId, func(record *registry.CameraRecord) error {
		produced = produced[:0]
		now := c.now()
		for _, d := range []struct {
			detection registry.Detection
			level     *bool
		}{
			{registry.DetectionMotion, levels.Motion},
			{registry.DetectionFace, levels.Face},
			{registry.DetectionObjects, levels.Objects},
		} {
			if d.level == nil || *d.level == record.Active(d.detection) {
				continue
			}
			record.SetActive(d.detection, *d.level)
			e := registry.Event{
				Type:      names[d.detection].end,
				Timestamp: now,
			}
			if *d.level {
				e.Type = names[d.detection].start
				e.Confidence = detail.Confidence
				if d.detection == registry.DetectionObjects {
					e.Objects = append([]string(nil), detail.Objects...)
				}
				e.Attributes = detail.Attributes
			}
			record.PushEvent(d.detection, e)
			produced = append(produced, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range produced {
		logger.SDebug("detection edge",
			zap.String("cameraId", cameraId),
			zap.String("event", e.Type))
	}
	return produced, nil
}

// LevelsOf maps a detection topic event name to the level it asserts.
func LevelsOf(event string) (Levels, bool) {
	on, off := true, false
	switch event {
	case events.DetectionMotionStart:
		return Levels{Motion: &on}, true
	case events.DetectionMotionEnd:
		return Levels{Motion: &off}, true
	case events.DetectionFaceDetected:
		return Levels{Face: &on}, true
	case events.DetectionFaceEnd:
		return Levels{Face: &off}, true
	case events.DetectionObjectsDetected:
		return Levels{Objects: &on}, true
	case events.DetectionObjectsCleared:
		return Levels{Objects: &off}, true
	}
	return Levels{}, false
}
