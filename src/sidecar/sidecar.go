package sidecar

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	"github.com/opensentry/command/src/models/rest"
	"github.com/opensentry/command/src/service"
)

// HttpSidecar adapts the fleet service to JSON and JPEG over HTTP.
type HttpSidecar struct {
	fleet *service.FleetService
}

func NewHttpSidecar(fleet *service.FleetService) *HttpSidecar {
	return &HttpSidecar{fleet: fleet}
}

func (s *HttpSidecar) Registration() func(app *fiber.App) {
	return func(app *fiber.App) {
		api := app.Group("/api")
		api.Get("/health", s.GETHealthcheck)

		api.Get("/cameras", s.GETListCameras)
		cameras := api.Group("/cameras")
		cameras.Get("/:id", s.GETCamera)
		cameras.Delete("/:id", s.DELETECamera)
		cameras.Post("/:id/command", s.POSTCommand)
		cameras.Get("/:id/frame", s.GETFrame)
		cameras.Get("/:id/snapshot", s.GETSnapshot)
		cameras.Get("/:id/recording", s.GETRecordingStatus)
		cameras.Post("/:id/recording/start", s.POSTStartRecording)
		cameras.Post("/:id/recording/stop", s.POSTStopRecording)

		api.Get("/recordings/:id", s.GETRecording)
	}
}

func (s *HttpSidecar) GETHealthcheck(ctx *fiber.Ctx) error {
	return ctx.JSON(rest.HealthResponse{
		Status:  "ok",
		Cameras: len(s.fleet.ListCameras()),
	})
}

func (s *HttpSidecar) GETListCameras(ctx *fiber.Ctx) error {
	records := s.fleet.ListCameras()
	resp := rest.ListCamerasResponse{
		Cameras: make([]rest.CameraResponse, 0, len(records)),
	}
	for _, r := range records {
		resp.Cameras = append(resp.Cameras, rest.FromRecord(r))
	}
	return ctx.JSON(resp)
}

func (s *HttpSidecar) GETCamera(ctx *fiber.Ctx) error {
	record, err := s.fleet.GetCamera(ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(rest.FromRecord(record))
}

func (s *HttpSidecar) DELETECamera(ctx *fiber.Ctx) error {
	if err := s.fleet.Forget(ctx.Params("id")); err != nil {
		return err
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (s *HttpSidecar) POSTCommand(ctx *fiber.Ctx) error {
	var req rest.CommandRequest
	if err := sonic.Unmarshal(ctx.Body(), &req); err != nil {
		return custerror.FormatInvalidArgument("POSTCommand: body err = %s", err)
	}
	if err := s.fleet.SendCommand(ctx.Context(), ctx.Params("id"), req.Command); err != nil {
		return err
	}
	logger.SDebug("POSTCommand",
		zap.String("cameraId", ctx.Params("id")),
		zap.String("command", req.Command))
	return ctx.SendStatus(fiber.StatusAccepted)
}

func (s *HttpSidecar) GETFrame(ctx *fiber.Ctx) error {
	frame, err := s.fleet.GetCurrentFrame(ctx.Params("id"))
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	ctx.Set(fiber.HeaderContentType, "image/jpeg")
	return ctx.Send(frame.Data)
}

func (s *HttpSidecar) GETSnapshot(ctx *fiber.Ctx) error {
	cameraId := ctx.Params("id")
	frame, err := s.fleet.Snapshot(cameraId)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("snapshot_%s_%s.jpg", cameraId, frame.CapturedAt.UTC().Format("20060102_150405"))
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	ctx.Set(fiber.HeaderContentType, "image/jpeg")
	return ctx.Send(frame.Data)
}

func (s *HttpSidecar) GETRecordingStatus(ctx *fiber.Ctx) error {
	cameraId := ctx.Params("id")
	state, err := s.fleet.RecordingStatus(cameraId)
	if err != nil {
		return err
	}
	return ctx.JSON(rest.RecordingStatusResponse{
		CameraId:  cameraId,
		Recording: rest.FromRecordingState(state),
	})
}

func (s *HttpSidecar) POSTStartRecording(ctx *fiber.Ctx) error {
	state, err := s.fleet.StartRecording(ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(rest.FromRecordingState(&state))
}

func (s *HttpSidecar) POSTStopRecording(ctx *fiber.Ctx) error {
	recording, err := s.fleet.StopRecording(ctx.Params("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(rest.RecordingResponse{
		Id:              recording.Id,
		CameraId:        recording.CameraId,
		StartedAt:       recording.StartedAt,
		DurationSeconds: recording.Duration.Seconds(),
		Frames:          recording.Frames,
		Bytes:           len(recording.Data),
	})
}

func (s *HttpSidecar) GETRecording(ctx *fiber.Ctx) error {
	recording, err := s.fleet.GetRecording(ctx.Params("id"))
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", recording.Id+".mp4"))
	ctx.Set(fiber.HeaderContentType, "video/mp4")
	return ctx.Send(recording.Data)
}
