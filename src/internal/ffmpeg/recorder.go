package custff

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"

	ffmpeg_go "github.com/u2takey/ffmpeg-go"
)

type RecorderOptions struct {
	BinPath string
	Fps     int
	Stderr  io.Writer
	// FinishTimeout bounds how long Finish waits for ffmpeg to flush before killing it.
	FinishTimeout time.Duration
}

// Recorder encodes JPEG frames written to it into an MP4 file in a private temp dir.
// Writes fail once the encoder process is gone.
type Recorder struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	dir           string
	output        string
	finishTimeout time.Duration

	exited  chan struct{}
	waitErr error

	mu     sync.Mutex
	frames int
	done   bool
}

func StartRecorder(opts RecorderOptions) (*Recorder, error) {
	fps := opts.Fps
	if fps <= 0 {
		fps = 15
	}
	dir, err := os.MkdirTemp("", "opensentry-recording-")
	if err != nil {
		return nil, custerror.FormatInternalError("StartRecorder: temp dir err = %s", err)
	}
	output := filepath.Join(dir, "recording.mp4")

	command := NewFFmpegCommand().
		WithBinPath(opts.BinPath).
		WithSourceUrl("pipe:").
		WithDestinationUrl(output).
		WithGlobalArguments("-hide_banner", "-loglevel", "error").
		WithInputArguments(ffmpeg_go.KwArgs{
			"f":         "image2pipe",
			"c:v":       "mjpeg",
			"framerate": fps,
		}).
		WithOutputArguments(ffmpeg_go.KwArgs{
			"c:v":      "libx264",
			"preset":   "veryfast",
			"pix_fmt":  "yuv420p",
			"movflags": "+faststart",
		}).
		WithOverwrite()
	if opts.Stderr != nil {
		command = command.WithStderr(opts.Stderr)
	}

	cmd, err := command.Compile()
	if err != nil {
		os.RemoveAll(dir)
		return nil, custerror.FormatInvalidArgument("StartRecorder: err = %s", err)
	}
	// an OS pipe: writes fail with EPIPE once ffmpeg is gone
	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, custerror.FormatInternalError("StartRecorder: stdin pipe err = %s", err)
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, custerror.FormatUnavailable("StartRecorder: start ffmpeg err = %s", err)
	}

	finishTimeout := opts.FinishTimeout
	if finishTimeout <= 0 {
		finishTimeout = 30 * time.Second
	}
	r := &Recorder{
		cmd:           cmd,
		stdin:         stdin,
		dir:           dir,
		output:        output,
		finishTimeout: finishTimeout,
		exited:        make(chan struct{}),
	}
	go r.wait()
	return r, nil
}

// wait reaps ffmpeg. Wait also closes our end of stdin, which fails any pending write.
func (r *Recorder) wait() {
	r.waitErr = r.cmd.Wait()
	close(r.exited)
	if r.waitErr != nil {
		logger.SDebug("Recorder: ffmpeg exited", zap.Error(r.waitErr))
	}
}

// Exited is closed once the encoder process is gone.
func (r *Recorder) Exited() <-chan struct{} {
	return r.exited
}

// WriteFrame must not be called concurrently with itself. It does not hold the
// lock while writing, so Finish can close stdin under a stalled write.
func (r *Recorder) WriteFrame(frame []byte) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done {
		return custerror.FormatFailedPrecondition("Recorder.WriteFrame: recorder closed")
	}
	select {
	case <-r.exited:
		return custerror.FormatUnavailable("Recorder.WriteFrame: ffmpeg exited err = %v", r.waitErr)
	default:
	}
	if _, err := r.stdin.Write(frame); err != nil {
		return custerror.FormatUnavailable("Recorder.WriteFrame: err = %s", err)
	}
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Finish flushes the encoder and returns the encoded file contents.
func (r *Recorder) Finish() ([]byte, error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return nil, custerror.FormatFailedPrecondition("Recorder.Finish: recorder closed")
	}
	r.done = true
	r.mu.Unlock()
	defer os.RemoveAll(r.dir)

	r.stdin.Close()
	timer := time.NewTimer(r.finishTimeout)
	defer timer.Stop()
	select {
	case <-r.exited:
	case <-timer.C:
		logger.SWarn("Recorder.Finish: ffmpeg did not flush in time, killing",
			zap.Duration("timeout", r.finishTimeout))
		if r.cmd.Process != nil {
			r.cmd.Process.Kill()
		}
		<-r.exited
	}
	if r.waitErr != nil {
		return nil, custerror.FormatInternalError("Recorder.Finish: ffmpeg err = %s", r.waitErr)
	}
	data, err := os.ReadFile(r.output)
	if err != nil {
		return nil, custerror.FormatInternalError("Recorder.Finish: read output err = %s", err)
	}
	return data, nil
}
