package rest

import (
	"time"

	"github.com/opensentry/command/src/registry"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Cameras int    `json:"cameras"`
}

type EventResponse struct {
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Confidence *float64               `json:"confidence,omitempty"`
	Objects    []string               `json:"objects,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type RecordingStateResponse struct {
	Id        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// CameraResponse never carries stream credentials.
type CameraResponse struct {
	CameraId      string                  `json:"cameraId"`
	Name          string                  `json:"name"`
	NodeType      string                  `json:"nodeType"`
	Capabilities  []string                `json:"capabilities"`
	Status        string                  `json:"status"`
	Scheme        string                  `json:"scheme"`
	Host          string                  `json:"host"`
	Port          int                     `json:"port"`
	Path          string                  `json:"path"`
	LastSeen      time.Time               `json:"lastSeen"`
	Source        string                  `json:"source,omitempty"`
	MotionActive  bool                    `json:"motionActive"`
	FaceActive    bool                    `json:"faceActive"`
	ObjectsActive bool                    `json:"objectsActive"`
	MotionEvents  []EventResponse         `json:"motionEvents"`
	FaceEvents    []EventResponse         `json:"faceEvents"`
	ObjectEvents  []EventResponse         `json:"objectEvents"`
	Recording     *RecordingStateResponse `json:"recording"`
}

type ListCamerasResponse struct {
	Cameras []CameraResponse `json:"cameras"`
}

type CommandRequest struct {
	Command string `json:"command"`
}

type RecordingStatusResponse struct {
	CameraId  string                  `json:"cameraId"`
	Recording *RecordingStateResponse `json:"recording"`
}

type RecordingResponse struct {
	Id              string    `json:"id"`
	CameraId        string    `json:"cameraId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Frames          int       `json:"frames"`
	Bytes           int       `json:"bytes"`
}

func FromRecord(r registry.CameraRecord) CameraResponse {
	capabilities := make([]string, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		capabilities = append(capabilities, string(c))
	}
	return CameraResponse{
		CameraId:      r.CameraId,
		Name:          r.Name,
		NodeType:      string(r.NodeType),
		Capabilities:  capabilities,
		Status:        string(r.Status),
		Scheme:        r.Connection.Scheme,
		Host:          r.Connection.Host,
		Port:          r.Connection.Port,
		Path:          r.Connection.Path,
		LastSeen:      r.LastSeen,
		Source:        string(r.Source),
		MotionActive:  r.MotionActive,
		FaceActive:    r.FaceActive,
		ObjectsActive: r.ObjectsActive,
		MotionEvents:  fromEvents(r.MotionEvents),
		FaceEvents:    fromEvents(r.FaceEvents),
		ObjectEvents:  fromEvents(r.ObjectEvents),
		Recording:     FromRecordingState(r.Recording),
	}
}

func FromRecordingState(s *registry.RecordingState) *RecordingStateResponse {
	if s == nil {
		return nil
	}
	return &RecordingStateResponse{
		Id:        s.Id,
		StartedAt: s.StartedAt,
	}
}

func fromEvents(events []registry.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			Type:       e.Type,
			Timestamp:  e.Timestamp,
			Confidence: e.Confidence,
			Objects:    e.Objects,
			Attributes: e.Attributes,
		})
	}
	return out
}
