package events

import (
	"fmt"
	"strings"

	custerror "github.com/opensentry/command/src/internal/error"
)

type Kind string

const (
	KindStatus  Kind = "status"
	KindMotion  Kind = "motion"
	KindFace    Kind = "face"
	KindObjects Kind = "objects"
	KindCommand Kind = "command"
)

// Event is a parsed topic of the form <namespace>/<camera_id>/<kind>.
type Event struct {
	Namespace string
	CameraId  string
	Kind      Kind
}

func (e *Event) Parse(topic string) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return custerror.FormatInvalidArgument("events.Parse: malformed topic %q", topic)
	}
	e.Namespace = parts[0]
	e.CameraId = parts[1]
	e.Kind = Kind(parts[2])
	return nil
}

func (e Event) String() string {
	return Topic(e.Namespace, e.CameraId, e.Kind)
}

func Topic(namespace string, cameraId string, kind Kind) string {
	return fmt.Sprintf("%s/%s/%s", namespace, cameraId, kind)
}

// Subscription is the wildcard filter for one kind over every camera.
func Subscription(namespace string, kind Kind) string {
	return fmt.Sprintf("%s/+/%s", namespace, kind)
}

type ObjectDetection struct {
	Class      string  `json:"class" mapstructure:"class"`
	Confidence float64 `json:"confidence" mapstructure:"confidence"`
}

// StatusMessage is the loose device heartbeat. Every field is optional.
type StatusMessage struct {
	Status        string            `json:"status,omitempty" mapstructure:"status"`
	Online        *bool             `json:"online,omitempty" mapstructure:"online"`
	Name          string            `json:"name,omitempty" mapstructure:"name"`
	NodeType      string            `json:"node_type,omitempty" mapstructure:"node_type"`
	Capabilities  []string          `json:"capabilities,omitempty" mapstructure:"capabilities"`
	Host          string            `json:"host,omitempty" mapstructure:"host"`
	VideoPort     int               `json:"video_port,omitempty" mapstructure:"video_port"`
	RtspPath      string            `json:"rtsp_path,omitempty" mapstructure:"rtsp_path"`
	MotionActive  *bool             `json:"motion_active,omitempty" mapstructure:"motion_active"`
	FaceActive    *bool             `json:"face_active,omitempty" mapstructure:"face_active"`
	ObjectsActive *bool             `json:"objects_active,omitempty" mapstructure:"objects_active"`
	Confidence    *float64          `json:"confidence,omitempty" mapstructure:"confidence"`
	Objects       []ObjectDetection `json:"objects,omitempty" mapstructure:"objects"`
}

const (
	DetectionMotionStart     = "motion_start"
	DetectionMotionEnd       = "motion_end"
	DetectionFaceDetected    = "face_detected"
	DetectionFaceEnd         = "face_end"
	DetectionObjectsDetected = "objects_detected"
	DetectionObjectsCleared  = "objects_cleared"
)

// DetectionMessage arrives on the motion, face and objects topics.
type DetectionMessage struct {
	Event      string                 `json:"event" mapstructure:"event"`
	Confidence *float64               `json:"confidence,omitempty" mapstructure:"confidence"`
	Objects    []ObjectDetection      `json:"objects,omitempty" mapstructure:"objects"`
	Attributes map[string]interface{} `json:"attributes,omitempty" mapstructure:"attributes"`
}

type CommandMessage struct {
	Command string `json:"command"`
}
