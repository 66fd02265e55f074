package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	custff "github.com/opensentry/command/src/internal/ffmpeg"
	"github.com/opensentry/command/src/internal/logger"
	custrtsp "github.com/opensentry/command/src/internal/rtsp"
	"github.com/opensentry/command/src/registry"
)

// FFmpegDialer probes the camera with an RTSP DESCRIBE before handing the
// stream to an ffmpeg decoder.
type FFmpegDialer struct {
	ProbeTimeout time.Duration
	Capture      custff.CaptureOptions
}

func (d *FFmpegDialer) Dial(ctx context.Context, cameraId string, conn registry.Connection) (Source, error) {
	streamUrl := conn.URL()
	if err := custrtsp.Probe(ctx, streamUrl, d.ProbeTimeout); err != nil {
		return nil, err
	}

	opts := d.Capture
	opts.Stderr = logger.NewZapToFfmpegWriter(zap.L(), cameraId)
	capture, err := custff.StartCapture(streamUrl, opts)
	if err != nil {
		return nil, err
	}
	logger.SDebug("stream dialed",
		zap.String("cameraId", cameraId),
		zap.String("host", conn.Host),
		zap.Int("port", conn.Port))
	return capture, nil
}

func FFmpegEncoders(opts custff.RecorderOptions) EncoderFactory {
	return func(cameraId string) (Encoder, error) {
		o := opts
		o.Stderr = logger.NewZapToFfmpegWriter(zap.L(), cameraId)
		return custff.StartRecorder(o)
	}
}
