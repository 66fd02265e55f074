package custff

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"

	ffmpeg_go "github.com/u2takey/ffmpeg-go"
)

const maxFrameSize = 8 << 20

type CaptureOptions struct {
	BinPath              string
	Fps                  int
	Width                int
	Height               int
	HardwareAcceleration FFmpegHardwareAccelerationType
	Stderr               io.Writer
}

// Capture is a running ffmpeg process decoding one RTSP stream into JPEG frames.
type Capture struct {
	cmd    *exec.Cmd
	frames chan []byte

	mu      sync.Mutex
	readErr error
	closed  bool
}

func StartCapture(streamUrl string, opts CaptureOptions) (*Capture, error) {
	command := NewFFmpegCommand().
		WithBinPath(opts.BinPath).
		WithSourceUrl(streamUrl).
		WithDestinationUrl("pipe:").
		WithGlobalArguments("-hide_banner", "-loglevel", "error").
		WithHardwareAccelerationType(opts.HardwareAcceleration).
		WithScale(opts.Fps, opts.Width, opts.Height).
		WithInputArguments(ffmpeg_go.KwArgs{
			"rtsp_transport": "tcp",
			"fflags":         "+genpts+discardcorrupt",
		}).
		WithOutputArguments(ffmpeg_go.KwArgs{
			"f":   "image2pipe",
			"c:v": "mjpeg",
			"q:v": "3",
		})
	if opts.Stderr != nil {
		command = command.WithStderr(opts.Stderr)
	}

	cmd, err := command.Compile()
	if err != nil {
		return nil, custerror.FormatInvalidArgument("StartCapture: err = %s", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, custerror.FormatInternalError("StartCapture: stdout pipe err = %s", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, custerror.FormatUnavailable("StartCapture: start ffmpeg err = %s", err)
	}

	c := &Capture{
		cmd:    cmd,
		frames: make(chan []byte, 1),
	}
	go c.read(stdout)
	return c, nil
}

func (c *Capture) read(stdout io.Reader) {
	defer close(c.frames)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 512<<10), maxFrameSize)
	scanner.Split(SplitJPEG)
	for scanner.Scan() {
		c.frames <- append([]byte(nil), scanner.Bytes()...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := scanner.Err(); err != nil {
		c.readErr = err
	} else {
		c.readErr = io.EOF
	}
}

// Next blocks until the next frame is decoded or timeout elapses.
func (c *Capture) Next(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-c.frames:
		if !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			return nil, custerror.FormatUnavailable("Capture.Next: stream ended err = %s", c.readErr)
		}
		return frame, nil
	case <-timer.C:
		return nil, custerror.FormatUnavailable("Capture.Next: no frame within %s", timeout)
	}
}

// Close kills ffmpeg and reaps it. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil {
			logger.SDebug("Capture.Close: kill ffmpeg", zap.Error(err))
		}
	}
	// unblock the reader so Wait can close stdout
	go func() {
		for range c.frames {
		}
	}()
	_ = c.cmd.Wait()
	return nil
}
