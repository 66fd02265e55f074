package stream

import (
	"context"
	"time"

	"github.com/opensentry/command/src/registry"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateBackoff    State = "backoff"
	StatePaused     State = "paused"
	StateExhausted  State = "exhausted"
)

type Frame struct {
	Data       []byte    `json:"-"`
	CapturedAt time.Time `json:"capturedAt"`
}

type Recording struct {
	Id        string        `json:"id"`
	CameraId  string        `json:"cameraId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Frames    int           `json:"frames"`
	Data      []byte        `json:"-"`
}

// Source yields decoded JPEG frames of one live connection.
type Source interface {
	Next(timeout time.Duration) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cameraId string, conn registry.Connection) (Source, error)
}

// Encoder turns the frames written to it into a finished recording.
type Encoder interface {
	WriteFrame(frame []byte) error
	Finish() ([]byte, error)
}

type EncoderFactory func(cameraId string) (Encoder, error)

type Config struct {
	MaxSessions        int
	MaxFailures        int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	ReadTimeout        time.Duration
	MaxRecording       time.Duration
	RecordingRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 32
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 60
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.MaxRecording <= 0 {
		c.MaxRecording = 10 * time.Minute
	}
	if c.RecordingRetention <= 0 {
		c.RecordingRetention = time.Hour
	}
	return c
}

// Backoff is the wait after the n-th consecutive failure: linear in n, capped.
func (c Config) Backoff(failures int) time.Duration {
	d := c.BackoffBase * time.Duration(failures)
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
