package registry

import (
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type NodeType string

const (
	NodeTypeBasic        NodeType = "basic"
	NodeTypeMotion       NodeType = "motion"
	NodeTypeFaceCamera   NodeType = "face_camera"
	NodeTypeObjectCamera NodeType = "object_camera"
	NodeTypeUnknown      NodeType = "unknown"
)

// ParseNodeType maps any string outside the known set to NodeTypeUnknown.
func ParseNodeType(s string) NodeType {
	switch t := NodeType(strings.ToLower(strings.TrimSpace(s))); t {
	case NodeTypeBasic, NodeTypeMotion, NodeTypeFaceCamera, NodeTypeObjectCamera:
		return t
	default:
		return NodeTypeUnknown
	}
}

type Capability string

const (
	CapabilityStreaming       Capability = "streaming"
	CapabilityMotionDetection Capability = "motion_detection"
	CapabilityFaceDetection   Capability = "face_detection"
	CapabilityObjectDetection Capability = "object_detection"
)

func ParseCapability(s string) (Capability, bool) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case CapabilityStreaming, CapabilityMotionDetection, CapabilityFaceDetection, CapabilityObjectDetection:
		return c, true
	default:
		return "", false
	}
}

// ParseCapabilities keeps the known capabilities of s, sorted and without duplicates.
func ParseCapabilities(s []string) []Capability {
	seen := make(map[Capability]struct{}, len(s))
	caps := make([]Capability, 0, len(s))
	for _, raw := range s {
		c, ok := ParseCapability(raw)
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusOnline     Status = "online"
	StatusStreaming  Status = "streaming"
	StatusIdle       Status = "idle"
	StatusOffline    Status = "offline"
)

var edges = map[Status][]Status{
	StatusDiscovered: {StatusOnline, StatusOffline},
	StatusOnline:     {StatusStreaming, StatusOffline},
	StatusStreaming:  {StatusIdle, StatusOffline},
	StatusIdle:       {StatusStreaming, StatusOffline},
	StatusOffline:    {StatusDiscovered, StatusOnline},
}

// CanTransition reports whether from -> to is a legal edge. Streaming is also
// reachable from discovered and offline through online, since frames prove the device is up.
func CanTransition(from Status, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	if to == StatusStreaming && (from == StatusDiscovered || from == StatusOffline) {
		return true
	}
	return false
}

type Source string

const (
	SourceMdns Source = "mdns"
	SourceMqtt Source = "mqtt"
)

type Connection struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Path     string `json:"path"`
	Username string `json:"-"`
	Password string `json:"-"`
}

// URL renders rtsp[s]://[user:pass@]host:port/path.
func (c Connection) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "rtsp"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strings.TrimPrefix(c.Path, "/"),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

type Detection string

const (
	DetectionMotion  Detection = "motion"
	DetectionFace    Detection = "face"
	DetectionObjects Detection = "objects"
)

type Event struct {
	Type       string                 `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Confidence *float64               `json:"confidence,omitempty"`
	Objects    []string               `json:"objects,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

type RecordingState struct {
	Id        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

type CameraRecord struct {
	CameraId      string          `json:"cameraId"`
	Name          string          `json:"name"`
	NodeType      NodeType        `json:"nodeType"`
	Capabilities  []Capability    `json:"capabilities"`
	Status        Status          `json:"status"`
	Connection    Connection      `json:"connection"`
	LastSeen      time.Time       `json:"lastSeen"`
	Source        Source          `json:"source"`
	MotionActive  bool            `json:"motionActive"`
	FaceActive    bool            `json:"faceActive"`
	ObjectsActive bool            `json:"objectsActive"`
	MotionEvents  []Event         `json:"motionEvents"`
	FaceEvents    []Event         `json:"faceEvents"`
	ObjectEvents  []Event         `json:"objectEvents"`
	Recording     *RecordingState `json:"recording,omitempty"`
}

func (c *CameraRecord) HasCapability(capability Capability) bool {
	for _, have := range c.Capabilities {
		if have == capability {
			return true
		}
	}
	return false
}

func (c *CameraRecord) Active(d Detection) bool {
	switch d {
	case DetectionMotion:
		return c.MotionActive
	case DetectionFace:
		return c.FaceActive
	case DetectionObjects:
		return c.ObjectsActive
	}
	return false
}

func (c *CameraRecord) SetActive(d Detection, active bool) {
	switch d {
	case DetectionMotion:
		c.MotionActive = active
	case DetectionFace:
		c.FaceActive = active
	case DetectionObjects:
		c.ObjectsActive = active
	}
}

func (c *CameraRecord) History(d Detection) []Event {
	switch d {
	case DetectionMotion:
		return c.MotionEvents
	case DetectionFace:
		return c.FaceEvents
	case DetectionObjects:
		return c.ObjectEvents
	}
	return nil
}

// PushEvent prepends e to the history of d. The registry trims it to its cap.
func (c *CameraRecord) PushEvent(d Detection, e Event) {
	history := append([]Event{e}, c.History(d)...)
	c.setHistory(d, history)
}

func (c *CameraRecord) setHistory(d Detection, history []Event) {
	switch d {
	case DetectionMotion:
		c.MotionEvents = history
	case DetectionFace:
		c.FaceEvents = history
	case DetectionObjects:
		c.ObjectEvents = history
	}
}

func (c *CameraRecord) trim(limit int) {
	for _, d := range []Detection{DetectionMotion, DetectionFace, DetectionObjects} {
		if h := c.History(d); len(h) > limit {
			c.setHistory(d, h[:limit])
		}
	}
}

func (c *CameraRecord) clone() CameraRecord {
	out := *c
	out.Capabilities = append([]Capability(nil), c.Capabilities...)
	out.MotionEvents = cloneEvents(c.MotionEvents)
	out.FaceEvents = cloneEvents(c.FaceEvents)
	out.ObjectEvents = cloneEvents(c.ObjectEvents)
	if c.Recording != nil {
		r := *c.Recording
		out.Recording = &r
	}
	return out
}

func cloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e
		if e.Confidence != nil {
			v := *e.Confidence
			out[i].Confidence = &v
		}
		out[i].Objects = append([]string(nil), e.Objects...)
		if e.Attributes != nil {
			out[i].Attributes = make(map[string]interface{}, len(e.Attributes))
			for k, v := range e.Attributes {
				out[i].Attributes[k] = v
			}
		}
	}
	return out
}
