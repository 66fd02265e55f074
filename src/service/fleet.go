package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opensentry/command/src/control"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/registry"
	"github.com/opensentry/command/src/stream"
)

type Commander interface {
	SendCommand(ctx context.Context, cameraId string, command string) error
}

// FleetService is what the presentation layer sees of the core: registry reads
// plus stream and command operations.
type FleetService struct {
	registry  *registry.Registry
	streams   *stream.Supervisor
	commander Commander
}

func NewFleetService(r *registry.Registry, streams *stream.Supervisor, commander Commander) *FleetService {
	if r == nil || streams == nil {
		logger.SFatal("fleet service dependencies are nil",
			zap.String("error", "registry or stream supervisor is nil"))
	}
	return &FleetService{
		registry:  r,
		streams:   streams,
		commander: commander,
	}
}

func (s *FleetService) ListCameras() []registry.CameraRecord {
	return s.registry.List()
}

func (s *FleetService) GetCamera(cameraId string) (registry.CameraRecord, error) {
	return s.registry.Get(cameraId)
}

// SendCommand applies the local side of a command, then publishes it to the device.
func (s *FleetService) SendCommand(ctx context.Context, cameraId string, command string) error {
	logger.SInfo("requested to send command",
		zap.String("cameraId", cameraId),
		zap.String("command", command))

	if !control.ValidCommand(command) {
		return custerror.FormatInvalidArgument("SendCommand: unknown command %q", command)
	}
	if _, err := s.registry.Get(cameraId); err != nil {
		return err
	}

	switch command {
	case control.CommandStart:
		if err := s.streams.Start(cameraId); err != nil {
			logger.SError("failed to start stream",
				zap.String("cameraId", cameraId),
				zap.Error(err))
			return err
		}
	case control.CommandStop:
		if err := s.streams.Pause(cameraId); err != nil && !errors.Is(err, custerror.ErrorNotFound) {
			return err
		}
	case control.CommandShutdown:
		s.streams.Halt(cameraId)
		s.markOffline(cameraId)
	}

	if s.commander == nil {
		return nil
	}
	if err := s.commander.SendCommand(ctx, cameraId, command); err != nil {
		logger.SError("failed to publish command",
			zap.String("cameraId", cameraId),
			zap.Error(err))
		return err
	}
	return nil
}

// markOffline moves a camera that no longer has a session out of the states that imply one.
func (s *FleetService) markOffline(cameraId string) {
	record, err := s.registry.Get(cameraId)
	if err != nil {
		return
	}
	switch record.Status {
	case registry.StatusOffline, registry.StatusDiscovered:
		return
	}
	if _, err := s.registry.Transition(cameraId, registry.StatusOffline); err != nil {
		logger.SWarn("failed to mark camera offline",
			zap.String("cameraId", cameraId),
			zap.Error(err))
	}
}

// Forget stops the stream before removing the record, so no loop outlives it.
func (s *FleetService) Forget(cameraId string) error {
	if _, err := s.registry.Get(cameraId); err != nil {
		return err
	}
	s.streams.Forget(cameraId)
	if err := s.registry.Remove(cameraId); err != nil {
		return err
	}
	logger.SInfo("camera forgotten", zap.String("cameraId", cameraId))
	return nil
}

func (s *FleetService) GetCurrentFrame(cameraId string) (stream.Frame, error) {
	if _, err := s.registry.Get(cameraId); err != nil {
		return stream.Frame{}, err
	}
	frame, err := s.streams.Frame(cameraId)
	return frame, notStreaming(cameraId, err)
}

func (s *FleetService) Snapshot(cameraId string) (stream.Frame, error) {
	if _, err := s.registry.Get(cameraId); err != nil {
		return stream.Frame{}, err
	}
	frame, err := s.streams.Snapshot(cameraId)
	return frame, notStreaming(cameraId, err)
}

func (s *FleetService) StartRecording(cameraId string) (registry.RecordingState, error) {
	if _, err := s.registry.Get(cameraId); err != nil {
		return registry.RecordingState{}, err
	}
	state, err := s.streams.StartRecording(cameraId)
	if errors.Is(err, custerror.ErrorNotFound) {
		return state, custerror.FormatFailedPrecondition("StartRecording: %s is not streaming", cameraId)
	}
	return state, err
}

func (s *FleetService) StopRecording(cameraId string) (stream.Recording, error) {
	if _, err := s.registry.Get(cameraId); err != nil {
		return stream.Recording{}, err
	}
	recording, err := s.streams.StopRecording(cameraId)
	if errors.Is(err, custerror.ErrorNotFound) {
		return recording, custerror.FormatFailedPrecondition("StopRecording: %s is not recording", cameraId)
	}
	return recording, err
}

// RecordingStatus is nil when the camera is not recording.
func (s *FleetService) RecordingStatus(cameraId string) (*registry.RecordingState, error) {
	record, err := s.registry.Get(cameraId)
	if err != nil {
		return nil, err
	}
	return record.Recording, nil
}

func (s *FleetService) GetRecording(recordingId string) (stream.Recording, error) {
	return s.streams.GetRecording(recordingId)
}

func notStreaming(cameraId string, err error) error {
	if errors.Is(err, custerror.ErrorNotFound) {
		return custerror.FormatUnavailable("camera %s has no active stream", cameraId)
	}
	return err
}
