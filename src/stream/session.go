package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/registry"
)

var errPaused = errors.New("session paused")

type activeRecording struct {
	state   registry.RecordingState
	encoder Encoder
	frames  int
}

// Session keeps one camera connected. Only its own goroutine dials and reads;
// other goroutines observe it through the mutex-guarded fields.
type Session struct {
	cameraId   string
	supervisor *Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	resume chan struct{}
	// released is closed once stop has returned and the source is closed.
	released    chan struct{}
	releaseOnce sync.Once
	// after is the released channel of the previous session of the same camera.
	after <-chan struct{}

	mu        sync.Mutex
	state     State
	failures  int
	paused    bool
	source    Source
	frame     *Frame
	recording *activeRecording
}

func newSession(s *Supervisor, cameraId string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cameraId:   cameraId,
		supervisor: s,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		resume:     make(chan struct{}, 1),
		released:   make(chan struct{}),
		state:      StateIdle,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.teardown()

	if s.after != nil {
		select {
		case <-s.ctx.Done():
			return
		case <-s.after:
		}
	}

	cfg := s.supervisor.cfg
	for {
		if s.ctx.Err() != nil {
			return
		}
		if s.isPaused() {
			s.setState(StatePaused)
			select {
			case <-s.ctx.Done():
				return
			case <-s.resume:
				continue
			}
		}

		s.setState(StateConnecting)
		err := s.connect()
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errPaused) || s.isPaused() {
			continue
		}
		if errors.Is(err, custerror.ErrorNotFound) {
			logger.SInfo("stream session camera gone",
				zap.String("cameraId", s.cameraId))
			s.supervisor.detach(s)
			return
		}

		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if failures >= cfg.MaxFailures {
			s.setState(StateExhausted)
			logger.SWarn("stream session exhausted",
				zap.String("cameraId", s.cameraId),
				zap.Int("failures", failures),
				zap.Error(err))
			s.supervisor.exhausted(s)
			return
		}

		delay := cfg.Backoff(failures)
		s.setState(StateBackoff)
		logger.SDebug("stream session backoff",
			zap.String("cameraId", s.cameraId),
			zap.Int("failures", failures),
			zap.Duration("delay", delay),
			zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Session) connect() error {
	record, err := s.supervisor.registry.Get(s.cameraId)
	if err != nil {
		return err
	}
	source, err := s.supervisor.dialer.Dial(s.ctx, s.cameraId, record.Connection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.paused || s.ctx.Err() != nil {
		s.mu.Unlock()
		source.Close()
		return errPaused
	}
	s.source = source
	s.mu.Unlock()
	defer s.closeSource()

	return s.pump(source)
}

func (s *Session) pump(source Source) error {
	cfg := s.supervisor.cfg
	first := true
	for {
		data, err := source.Next(cfg.ReadTimeout)
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if err != nil {
			return err
		}
		frame := &Frame{Data: data, CapturedAt: time.Now()}
		s.mu.Lock()
		if s.paused {
			// keep draining the connection but publish nothing
			s.state = StatePaused
			s.mu.Unlock()
			first = true
			continue
		}
		s.frame = frame
		if first {
			s.failures = 0
			s.state = StateStreaming
		}
		recording := s.recording
		s.mu.Unlock()

		if first && !s.isPaused() {
			first = false
			s.supervisor.reportStreaming(s.cameraId)
		}
		if recording != nil {
			s.record(recording, data)
		}
	}
}

func (s *Session) record(recording *activeRecording, data []byte) {
	if err := recording.encoder.WriteFrame(data); err != nil {
		logger.SError("stream session recording write failed, finalizing",
			zap.String("cameraId", s.cameraId),
			zap.String("recordingId", recording.state.Id),
			zap.Error(err))
		if _, err := s.supervisor.finishRecording(s, recording); err != nil {
			logger.SError("stream session recording abandoned",
				zap.String("cameraId", s.cameraId),
				zap.String("recordingId", recording.state.Id),
				zap.Error(err))
		}
		return
	}
	s.mu.Lock()
	recording.frames++
	s.mu.Unlock()

	if time.Since(recording.state.StartedAt) >= s.supervisor.cfg.MaxRecording {
		logger.SInfo("stream session recording reached max duration",
			zap.String("cameraId", s.cameraId),
			zap.String("recordingId", recording.state.Id))
		if _, err := s.supervisor.finishRecording(s, recording); err != nil {
			logger.SError("stream session recording finalize",
				zap.String("cameraId", s.cameraId),
				zap.Error(err))
		}
	}
}

func (s *Session) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) closeSource() {
	s.mu.Lock()
	source := s.source
	s.source = nil
	s.mu.Unlock()
	if source != nil {
		source.Close()
	}
}

// pause stops publishing frames while the connection stays open. A connection
// lost while paused is not redialed until resume.
func (s *Session) pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Session) unpause() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.failures = 0
	s.mu.Unlock()
	if wasPaused {
		select {
		case s.resume <- struct{}{}:
		default:
		}
	}
}

// stop cancels the loop and waits for it to exit.
func (s *Session) stop() {
	s.cancel()
	s.closeSource()
	<-s.done
	s.releaseOnce.Do(func() { close(s.released) })
}

func (s *Session) teardown() {
	s.closeSource()
	s.mu.Lock()
	recording := s.recording
	s.mu.Unlock()
	if recording != nil {
		if _, err := s.supervisor.finishRecording(s, recording); err != nil {
			logger.SError("stream session teardown recording",
				zap.String("cameraId", s.cameraId),
				zap.Error(err))
		}
	}
	s.setState(StateIdle)
}

func (s *Session) latestFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return Frame{}, custerror.FormatUnavailable("stream: no frame yet for %s", s.cameraId)
	}
	return Frame{
		Data:       append([]byte(nil), s.frame.Data...),
		CapturedAt: s.frame.CapturedAt,
	}, nil
}
