package custff

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"testing/iotest"

	ffmpeg_go "github.com/u2takey/ffmpeg-go"
)

func Test_FfmpegCommand(t *testing.T) {
	ffmpegCommand := NewFFmpegCommand()
	ffmpegCommand.
		WithSourceUrl("rtsp://10.0.0.12:8554/cam1").
		WithGlobalArguments("-hide_banner", "-loglevel", "info").
		WithInputArguments(ffmpeg_go.KwArgs{
			"rtsp_transport": "tcp",
			"fflags":         "+genpts+discardcorrupt",
		}).
		WithDestinationUrl("pipe:").
		WithOutputArguments(ffmpeg_go.KwArgs{
			"f":   "image2pipe",
			"c:v": "mjpeg",
		}).
		WithScale(15, 1280, 720).
		WithHardwareAccelerationType("")

	res, err := ffmpegCommand.String()
	if err != nil {
		t.Fatal(err)
	}
	for _, expected := range []string{"-rtsp_transport tcp", "-i rtsp://10.0.0.12:8554/cam1", "-f image2pipe", "-vf scale=1280:720", "pipe:"} {
		if !strings.Contains(res, expected) {
			t.Errorf("expected %q in %s", expected, res)
		}
	}
	t.Log(res)
}

func Test_FfmpegCommandRequiresUrls(t *testing.T) {
	if _, err := NewFFmpegCommand().WithDestinationUrl("pipe:").String(); err == nil {
		t.Error("expected error without source")
	}
	if _, err := NewFFmpegCommand().WithSourceUrl("pipe:").String(); err == nil {
		t.Error("expected error without destination")
	}
}

func Test_SplitJPEG(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x11})
	stream.Write(frame1)
	stream.Write([]byte{0x22})
	stream.Write(frame2)
	stream.Write([]byte{0xFF, 0xD8, 0x04})

	scanner := bufio.NewScanner(&stream)
	scanner.Split(SplitJPEG)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame1) || !bytes.Equal(frames[1], frame2) {
		t.Errorf("unexpected frames %x", frames)
	}
}

func Test_SplitJPEGMarkerAcrossReads(t *testing.T) {
	frame := []byte{0xFF, 0xD8, 0x05, 0x06, 0xFF, 0xD9}
	scanner := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(frame)))
	scanner.Split(SplitJPEG)
	if !scanner.Scan() {
		t.Fatalf("expected a frame, err = %v", scanner.Err())
	}
	if !bytes.Equal(scanner.Bytes(), frame) {
		t.Errorf("expected %x, got %x", frame, scanner.Bytes())
	}
}
