package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carlmjohnson/flowmatic"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/internal/cache"
	custcon "github.com/opensentry/command/src/internal/concurrent"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/registry"
)

// Supervisor owns one Session per armed camera. A camera stays armed after
// its session gives up so that a fresh announcement can restart it.
type Supervisor struct {
	registry   *registry.Registry
	dialer     Dialer
	encoders   EncoderFactory
	cfg        Config
	pool       *ants.Pool
	recordings *ristretto.Cache

	mu       sync.Mutex
	sessions map[string]*Session
	stopping map[string]*Session
	armed    map[string]struct{}
	closed   bool
}

type Options struct {
	config     Config
	encoders   EncoderFactory
	pool       *ants.Pool
	recordings *ristretto.Cache
}

type Optioner func(o *Options)

func WithConfig(c Config) Optioner {
	return func(o *Options) {
		o.config = c
	}
}

func WithEncoders(f EncoderFactory) Optioner {
	return func(o *Options) {
		o.encoders = f
	}
}

func WithPool(p *ants.Pool) Optioner {
	return func(o *Options) {
		o.pool = p
	}
}

// WithRecordingCache stores finished recordings; cost is their size in bytes.
func WithRecordingCache(c *ristretto.Cache) Optioner {
	return func(o *Options) {
		o.recordings = c
	}
}

func NewSupervisor(r *registry.Registry, dialer Dialer, options ...Optioner) *Supervisor {
	opts := &Options{}
	for _, o := range options {
		o(opts)
	}
	cfg := opts.config.withDefaults()
	if opts.pool == nil {
		opts.pool = custcon.New(cfg.MaxSessions, custcon.WithNonblocking())
	}
	if opts.recordings == nil {
		opts.recordings = cache.New()
	}
	return &Supervisor{
		registry:   r,
		dialer:     dialer,
		encoders:   opts.encoders,
		cfg:        cfg,
		pool:       opts.pool,
		recordings: opts.recordings,
		sessions:   make(map[string]*Session),
		stopping:   make(map[string]*Session),
		armed:      make(map[string]struct{}),
	}
}

// Start arms the camera and attaches a session, resuming a paused one.
func (s *Supervisor) Start(cameraId string) error {
	if _, err := s.registry.Get(cameraId); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return custerror.FormatUnavailable("stream.Start: supervisor is shut down")
	}
	s.armed[cameraId] = struct{}{}
	if session, found := s.sessions[cameraId]; found {
		session.unpause()
		return nil
	}
	return s.spawnLocked(cameraId)
}

// spawnLocked attaches a new session. One still being torn down for the same
// camera must release its connection before the new one dials.
func (s *Supervisor) spawnLocked(cameraId string) error {
	session := newSession(s, cameraId)
	if previous, found := s.stopping[cameraId]; found {
		session.after = previous.released
	}
	if err := s.pool.Submit(session.run); err != nil {
		session.cancel()
		if errors.Is(err, ants.ErrPoolOverload) {
			return custerror.FormatResourceExhausted("stream.Start: session limit %d reached", s.cfg.MaxSessions)
		}
		return custerror.FormatUnavailable("stream.Start: submit err = %s", err)
	}
	s.sessions[cameraId] = session
	logger.SInfo("stream session attached", zap.String("cameraId", cameraId))
	return nil
}

// Pause keeps the session but drops its connection until Start is called again.
func (s *Supervisor) Pause(cameraId string) error {
	session, err := s.session(cameraId)
	if err != nil {
		return err
	}
	session.pause()
	if record, err := s.registry.Get(cameraId); err == nil && record.Status == registry.StatusStreaming {
		s.registry.Transition(cameraId, registry.StatusIdle)
	}
	logger.SInfo("stream session paused", zap.String("cameraId", cameraId))
	return nil
}

// Halt tears the session down and waits for its connection to close. The camera stays armed.
func (s *Supervisor) Halt(cameraId string) {
	s.mu.Lock()
	session, found := s.sessions[cameraId]
	if found {
		delete(s.sessions, cameraId)
		s.stopping[cameraId] = session
	}
	s.mu.Unlock()
	if !found {
		return
	}
	session.stop()

	s.mu.Lock()
	if s.stopping[cameraId] == session {
		delete(s.stopping, cameraId)
	}
	s.mu.Unlock()
	logger.SInfo("stream session halted", zap.String("cameraId", cameraId))
}

// Forget halts the session and disarms the camera.
func (s *Supervisor) Forget(cameraId string) {
	s.mu.Lock()
	delete(s.armed, cameraId)
	s.mu.Unlock()
	s.Halt(cameraId)
}

// Rearm restarts an armed camera that has no session.
func (s *Supervisor) Rearm(cameraId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	if _, armed := s.armed[cameraId]; !armed {
		return false, nil
	}
	if _, found := s.sessions[cameraId]; found {
		return false, nil
	}
	if err := s.spawnLocked(cameraId); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Supervisor) Armed(cameraId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, armed := s.armed[cameraId]
	return armed
}

func (s *Supervisor) State(cameraId string) (State, bool) {
	session, err := s.session(cameraId)
	if err != nil {
		return "", false
	}
	return session.State(), true
}

func (s *Supervisor) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Frame returns a copy of the latest decoded JPEG.
func (s *Supervisor) Frame(cameraId string) (Frame, error) {
	session, err := s.session(cameraId)
	if err != nil {
		return Frame{}, err
	}
	return session.latestFrame()
}

// Snapshot is Frame restamped with the time it was taken.
func (s *Supervisor) Snapshot(cameraId string) (Frame, error) {
	frame, err := s.Frame(cameraId)
	if err != nil {
		return Frame{}, err
	}
	frame.CapturedAt = time.Now()
	return frame, nil
}

func (s *Supervisor) StartRecording(cameraId string) (registry.RecordingState, error) {
	session, err := s.session(cameraId)
	if err != nil {
		return registry.RecordingState{}, err
	}
	if s.encoders == nil {
		return registry.RecordingState{}, custerror.FormatUnavailable("stream.StartRecording: recording is not configured")
	}

	session.mu.Lock()
	if session.recording != nil {
		state := session.recording.state
		session.mu.Unlock()
		return state, custerror.FormatAlreadyExists("stream.StartRecording: %s already recording %s", cameraId, state.Id)
	}
	if session.state != StateStreaming {
		state := session.state
		session.mu.Unlock()
		return registry.RecordingState{}, custerror.FormatFailedPrecondition("stream.StartRecording: %s is %s", cameraId, state)
	}
	encoder, err := s.encoders(cameraId)
	if err != nil {
		session.mu.Unlock()
		return registry.RecordingState{}, err
	}
	state := registry.RecordingState{
		Id:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	session.recording = &activeRecording{state: state, encoder: encoder}
	session.mu.Unlock()

	s.registry.SetRecording(cameraId, &state)
	logger.SInfo("stream recording started",
		zap.String("cameraId", cameraId),
		zap.String("recordingId", state.Id))
	return state, nil
}

func (s *Supervisor) StopRecording(cameraId string) (Recording, error) {
	session, err := s.session(cameraId)
	if err != nil {
		return Recording{}, err
	}
	session.mu.Lock()
	recording := session.recording
	session.mu.Unlock()
	if recording == nil {
		return Recording{}, custerror.FormatFailedPrecondition("stream.StopRecording: %s is not recording", cameraId)
	}
	return s.finishRecording(session, recording)
}

func (s *Supervisor) RecordingStatus(cameraId string) (*registry.RecordingState, error) {
	session, err := s.session(cameraId)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.recording == nil {
		return nil, nil
	}
	state := session.recording.state
	return &state, nil
}

func (s *Supervisor) GetRecording(recordingId string) (Recording, error) {
	value, found := s.recordings.Get(recordingId)
	if !found {
		return Recording{}, custerror.FormatNotFound("stream.GetRecording: recording %s not found", recordingId)
	}
	return value.(Recording), nil
}

// finishRecording detaches recording from the session exactly once and stores the result.
func (s *Supervisor) finishRecording(session *Session, recording *activeRecording) (Recording, error) {
	session.mu.Lock()
	if session.recording != recording {
		session.mu.Unlock()
		return Recording{}, custerror.FormatFailedPrecondition("stream.StopRecording: %s recording already finished", session.cameraId)
	}
	session.recording = nil
	frames := recording.frames
	session.mu.Unlock()

	s.registry.SetRecording(session.cameraId, nil)
	data, err := recording.encoder.Finish()
	if err != nil {
		return Recording{}, err
	}
	result := Recording{
		Id:        recording.state.Id,
		CameraId:  session.cameraId,
		StartedAt: recording.state.StartedAt,
		Duration:  time.Since(recording.state.StartedAt),
		Frames:    frames,
		Data:      data,
	}
	s.recordings.SetWithTTL(result.Id, result, int64(len(data))+1, s.cfg.RecordingRetention)
	s.recordings.Wait()
	logger.SInfo("stream recording finished",
		zap.String("cameraId", session.cameraId),
		zap.String("recordingId", result.Id),
		zap.Int("frames", frames),
		zap.Int("bytes", len(data)))
	return result, nil
}

// Shutdown halts every session concurrently and releases the pool.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for id, session := range s.sessions {
		sessions = append(sessions, session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		flowmatic.Each(flowmatic.MaxProcs, sessions, func(session *Session) error {
			session.stop()
			return nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.pool.Release()
	logger.SInfo("stream supervisor stopped", zap.Int("sessions", len(sessions)))
	return nil
}

func (s *Supervisor) session(cameraId string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, found := s.sessions[cameraId]
	if !found {
		return nil, custerror.FormatNotFound("stream: no session for %s", cameraId)
	}
	return session, nil
}

func (s *Supervisor) detach(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[session.cameraId] != session {
		return false
	}
	delete(s.sessions, session.cameraId)
	return true
}

func (s *Supervisor) exhausted(session *Session) {
	if !s.detach(session) {
		return
	}
	if _, err := s.registry.Transition(session.cameraId, registry.StatusOffline); err != nil {
		logger.SDebug("stream session exhausted transition",
			zap.String("cameraId", session.cameraId),
			zap.Error(err))
	}
}

func (s *Supervisor) reportStreaming(cameraId string) {
	if _, err := s.registry.Transition(cameraId, registry.StatusStreaming); err != nil {
		logger.SDebug("stream session streaming transition",
			zap.String("cameraId", cameraId),
			zap.Error(err))
	}
}
