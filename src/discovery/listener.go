package discovery

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	custmdns "github.com/opensentry/command/src/internal/mdns"
	"github.com/opensentry/command/src/registry"
)

// Listener applies mDNS announcements to the registry.
type Listener struct {
	registry    *registry.Registry
	credentials registry.Credentials
	in          <-chan custmdns.Announcement
}

func NewListener(r *registry.Registry, in <-chan custmdns.Announcement, credentials registry.Credentials) *Listener {
	return &Listener{
		registry:    r,
		credentials: credentials,
		in:          in,
	}
}

// Run consumes announcements until ctx is cancelled or the channel closes.
func (l *Listener) Run(ctx context.Context) {
	logger.SDebug("discovery listener started")
	for {
		select {
		case <-ctx.Done():
			logger.SDebug("discovery listener stopped")
			return
		case a, ok := <-l.in:
			if !ok {
				return
			}
			if err := l.Handle(a); err != nil {
				logger.SInfo("discovery announcement dropped",
					zap.String("instance", a.Instance),
					zap.Error(err))
			}
		}
	}
}

func (l *Listener) Handle(a custmdns.Announcement) error {
	if a.Kind == custmdns.Removed {
		// staleness is decided by the health monitor
		logger.SInfo("discovery service removed",
			zap.String("instance", a.Instance),
			zap.String("cameraId", a.Text["camera_id"]))
		return nil
	}

	patch, cameraId, err := l.parse(a)
	if err != nil {
		return err
	}
	record, err := l.registry.Upsert(cameraId, patch)
	if err != nil {
		return err
	}
	logger.SInfo("discovery camera announced",
		zap.String("cameraId", cameraId),
		zap.String("status", string(record.Status)),
		zap.String("host", record.Connection.Host),
		zap.Int("port", record.Connection.Port))
	return nil
}

func (l *Listener) parse(a custmdns.Announcement) (registry.Patch, string, error) {
	text := a.Text
	cameraId := strings.TrimSpace(text["camera_id"])
	if cameraId == "" {
		return registry.Patch{}, "", custerror.FormatInvalidArgument("discovery: camera_id missing")
	}

	port, err := videoPort(text)
	if err != nil {
		return registry.Patch{}, "", err
	}

	host := hostOf(a)
	if host == "" {
		return registry.Patch{}, "", custerror.FormatInvalidArgument("discovery: no address for %s", cameraId)
	}

	name := text["name"]
	if name == "" {
		name = "Camera " + cameraId
	}

	nodeType := registry.ParseNodeType(text["node_type"])

	capabilities := []registry.Capability{registry.CapabilityStreaming}
	if raw, ok := text["capabilities"]; ok && raw != "" {
		capabilities = registry.ParseCapabilities(strings.Split(raw, ","))
	}

	path := text["rtsp_path"]
	if path == "" {
		path = cameraId
	}

	scheme := "rtsp"
	if s := strings.ToLower(text["scheme"]); s == "rtsps" || s == "rtsp" {
		scheme = s
	}
	if tls, _ := strconv.ParseBool(text["tls"]); tls {
		scheme = "rtsps"
	}

	connection := registry.Connection{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   path,
	}
	l.credentials.Apply(&connection)

	status := registry.StatusDiscovered
	source := registry.SourceMdns
	return registry.Patch{
		Name:         &name,
		NodeType:     &nodeType,
		Capabilities: capabilities,
		Status:       &status,
		Connection:   &connection,
		Source:       &source,
	}, cameraId, nil
}

func videoPort(text map[string]string) (int, error) {
	for _, key := range []string{"video_port", "rtsps_port", "rtsp_port"} {
		raw, ok := text[key]
		if !ok {
			continue
		}
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			return 0, custerror.FormatInvalidArgument("discovery: invalid %s %q", key, raw)
		}
		return port, nil
	}
	return 0, custerror.FormatInvalidArgument("discovery: video_port missing")
}

func hostOf(a custmdns.Announcement) string {
	for _, ip := range a.Addrs {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return a.HostName
}
