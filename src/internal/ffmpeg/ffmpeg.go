package custff

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	ffmpeg_go "github.com/u2takey/ffmpeg-go"
)

type FFmpegHardwareAccelerationType string

var (
	VA_API    FFmpegHardwareAccelerationType = "vaapi"
	QUICKSYNC FFmpegHardwareAccelerationType = "quicksync"
)

type ffmpegCommand struct {
	sourceUrl                string
	destinationUrl           string
	inputArguments           ffmpeg_go.KwArgs
	outputArguments          ffmpeg_go.KwArgs
	globalArguments          []string
	hardwareAccelerationType FFmpegHardwareAccelerationType
	fps                      int
	width                    int
	height                   int
	binPath                  string
	stdin                    io.Reader
	stdout                   io.Writer
	stderr                   io.Writer
	overwrite                bool
}

func NewFFmpegCommand() *ffmpegCommand {
	return &ffmpegCommand{}
}

func (c *ffmpegCommand) WithBinPath(path string) *ffmpegCommand {
	c.binPath = path
	return c
}

func (c *ffmpegCommand) WithInputArguments(args ffmpeg_go.KwArgs) *ffmpegCommand {
	c.inputArguments = args
	return c
}

func (c *ffmpegCommand) WithOutputArguments(args ffmpeg_go.KwArgs) *ffmpegCommand {
	c.outputArguments = args
	return c
}

func (c *ffmpegCommand) WithGlobalArguments(args ...string) *ffmpegCommand {
	c.globalArguments = append(c.globalArguments, args...)
	return c
}

func (c *ffmpegCommand) WithSourceUrl(url string) *ffmpegCommand {
	c.sourceUrl = url
	return c
}

func (c *ffmpegCommand) WithDestinationUrl(url string) *ffmpegCommand {
	c.destinationUrl = url
	return c
}

func (c *ffmpegCommand) WithHardwareAccelerationType(t FFmpegHardwareAccelerationType) *ffmpegCommand {
	c.hardwareAccelerationType = t
	return c
}

func (c *ffmpegCommand) WithScale(fps int, width int, height int) *ffmpegCommand {
	c.fps = fps
	c.width = width
	c.height = height
	return c
}

func (c *ffmpegCommand) WithStdin(r io.Reader) *ffmpegCommand {
	c.stdin = r
	return c
}

func (c *ffmpegCommand) WithStdout(w io.Writer) *ffmpegCommand {
	c.stdout = w
	return c
}

func (c *ffmpegCommand) WithStderr(w io.Writer) *ffmpegCommand {
	c.stderr = w
	return c
}

func (c *ffmpegCommand) WithOverwrite() *ffmpegCommand {
	c.overwrite = true
	return c
}

func (c *ffmpegCommand) Stream() (*ffmpeg_go.Stream, error) {
	if c.sourceUrl == "" {
		return nil, fmt.Errorf("source URL is required")
	}
	if c.destinationUrl == "" {
		return nil, fmt.Errorf("destination URL is required")
	}

	input := ffmpeg_go.KwArgs{}
	for k, v := range c.buildDecodeHardwareArguments() {
		input[k] = v
	}
	for k, v := range c.inputArguments {
		input[k] = v
	}

	output := ffmpeg_go.KwArgs{}
	if c.fps > 0 {
		for k, v := range c.buildScaleHardwareArguments(c.fps, c.width, c.height) {
			output[k] = v
		}
	}
	for k, v := range c.outputArguments {
		output[k] = v
	}

	stream := ffmpeg_go.
		Input(c.sourceUrl, input).
		Output(c.destinationUrl, output)
	if len(c.globalArguments) > 0 {
		stream = stream.GlobalArgs(c.globalArguments...)
	}
	if c.overwrite {
		stream = stream.OverWriteOutput()
	}
	if c.binPath != "" {
		stream = stream.SetFfmpegPath(c.binPath)
	}
	if c.stdin != nil {
		stream = stream.WithInput(c.stdin)
	}
	if c.stdout != nil {
		stream = stream.WithOutput(c.stdout)
	}
	if c.stderr != nil {
		stream = stream.WithErrorOutput(c.stderr)
	}
	return stream, nil
}

func (c *ffmpegCommand) Compile() (*exec.Cmd, error) {
	stream, err := c.Stream()
	if err != nil {
		return nil, err
	}
	return stream.Compile(), nil
}

func (c *ffmpegCommand) String() (string, error) {
	stream, err := c.Stream()
	if err != nil {
		return "", err
	}
	cmd := "ffmpeg"
	if c.binPath != "" {
		cmd = c.binPath
	}
	return cmd + " " + strings.Join(stream.GetArgs(), " "), nil
}

func (c *ffmpegCommand) buildDecodeHardwareArguments() ffmpeg_go.KwArgs {
	switch c.hardwareAccelerationType {
	case VA_API:
		return ffmpeg_go.KwArgs{
			"hwaccel":               "vaapi",
			"hwaccel_flags":         "allow_profile_mismatch",
			"hwaccel_device":        "/dev/dri/renderD128",
			"hwaccel_output_format": "vaapi",
		}
	case QUICKSYNC:
		return ffmpeg_go.KwArgs{
			"hwaccel":               "qsv",
			"qsv_device":            "/dev/dri/renderD128",
			"hwaccel_output_format": "qsv",
			"c:v":                   "h264_qsv",
		}
	default:
		return nil
	}
}

func (c *ffmpegCommand) buildScaleHardwareArguments(fps int, width int, height int) ffmpeg_go.KwArgs {
	if width <= 0 || height <= 0 {
		return ffmpeg_go.KwArgs{"r": fps}
	}
	switch c.hardwareAccelerationType {
	case VA_API:
		return ffmpeg_go.KwArgs{
			"r":  fps,
			"vf": fmt.Sprintf("fps=%d,scale_vaapi=w=%d:h=%d:format=nv12,hwdownload,format=nv12,format=yuv420p", fps, width, height),
		}
	case QUICKSYNC:
		return ffmpeg_go.KwArgs{
			"r":  fps,
			"vf": fmt.Sprintf("vpp_qsv=framerate=%d:w=%d:h=%d:format=nv12,hwdownload,format=nv12,format=yuv420p", fps, width, height),
		}
	default:
		return ffmpeg_go.KwArgs{
			"r":  fps,
			"vf": fmt.Sprintf("scale=%d:%d", width, height),
		}
	}
}
