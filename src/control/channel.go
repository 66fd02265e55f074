package control

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/correlator"
	"github.com/opensentry/command/src/helper"
	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
	custmqtt "github.com/opensentry/command/src/internal/mqtt"
	"github.com/opensentry/command/src/models/events"
	"github.com/opensentry/command/src/registry"
)

const (
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandShutdown = "shutdown"
)

func ValidCommand(command string) bool {
	switch command {
	case CommandStart, CommandStop, CommandShutdown:
		return true
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Halter tears down the stream session of a camera that reported itself down.
type Halter interface {
	Halt(cameraId string)
}

// Channel ingests device status and detection messages and publishes commands.
type Channel struct {
	registry    *registry.Registry
	correlator  *correlator.Correlator
	halter      Halter
	namespace   string
	defaultPort int
	credentials registry.Credentials

	mu        sync.RWMutex
	publisher Publisher
}

type Options struct {
	namespace   string
	defaultPort int
	credentials registry.Credentials
	halter      Halter
}

type Optioner func(o *Options)

func WithNamespace(ns string) Optioner {
	return func(o *Options) {
		o.namespace = ns
	}
}

func WithDefaultVideoPort(port int) Optioner {
	return func(o *Options) {
		o.defaultPort = port
	}
}

func WithCredentials(c registry.Credentials) Optioner {
	return func(o *Options) {
		o.credentials = c
	}
}

func WithHalter(h Halter) Optioner {
	return func(o *Options) {
		o.halter = h
	}
}

func New(r *registry.Registry, c *correlator.Correlator, options ...Optioner) *Channel {
	opts := &Options{
		namespace:   "opensentry",
		defaultPort: 8554,
	}
	for _, o := range options {
		o(opts)
	}
	return &Channel{
		registry:    r,
		correlator:  c,
		halter:      opts.halter,
		namespace:   opts.namespace,
		defaultPort: opts.defaultPort,
		credentials: opts.credentials,
	}
}

func (c *Channel) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

func (c *Channel) Subscriptions() []paho.SubscribeOptions {
	kinds := []events.Kind{events.KindStatus, events.KindMotion, events.KindFace, events.KindObjects}
	subs := make([]paho.SubscribeOptions, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, paho.SubscribeOptions{
			Topic: events.Subscription(c.namespace, kind),
			QoS:   1,
		})
	}
	return subs
}

// Register is re-run on every connection since the broker forgets non-persistent subscriptions.
func (c *Channel) Register(cm *autopaho.ConnectionManager, connack *paho.Connack) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	subs := c.Subscriptions()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	}); err != nil {
		logger.SError("unable to make MQTT subscriptions",
			zap.String("where", "control.Register"),
			zap.Reflect("subs", subs),
			zap.Error(err))
		return
	}
	logger.SInfo("MQTT subscriptions made success", zap.Reflect("subs", subs))
}

func (c *Channel) RouterHandler() custmqtt.RouterRegister {
	return func(router *paho.StandardRouter) {
		for _, sub := range c.Subscriptions() {
			router.RegisterHandler(sub.Topic, helper.WrapForHandlers(c.HandlePublish))
		}
	}
}

func ClientErrorHandler(err error) {
	logger.SError("MQTT Client", zap.Error(err))
}

func DisconnectHandler(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	logger.SError("MQTT Server Disconnect",
		zap.String("reason", reason),
		zap.Uint8("code", d.ReasonCode))
}

func (c *Channel) HandlePublish(p *paho.Publish) error {
	logger.SDebug("HandlePublish",
		zap.String("topic", p.Topic),
		zap.String("message", string(p.Payload)))

	var event events.Event
	if err := event.Parse(p.Topic); err != nil {
		return err
	}
	if event.Namespace != c.namespace {
		return custerror.FormatInvalidArgument("control: foreign namespace in %q", p.Topic)
	}

	switch event.Kind {
	case events.KindStatus:
		msg, err := decodeStatus(p.Payload)
		if err != nil {
			return err
		}
		return c.HandleStatus(event.CameraId, msg)
	case events.KindMotion, events.KindFace, events.KindObjects:
		var msg events.DetectionMessage
		if err := decodePayload(p.Payload, &msg); err != nil {
			return err
		}
		return c.HandleDetection(event.CameraId, event.Kind, &msg)
	}
	return custerror.FormatInvalidArgument("control: unexpected topic kind %q", event.Kind)
}

func (c *Channel) HandleStatus(cameraId string, msg *events.StatusMessage) error {
	down, err := isDown(msg)
	if err != nil {
		return err
	}

	if _, err := c.registry.Get(cameraId); err != nil {
		if err := c.register(cameraId, msg); err != nil {
			return err
		}
	} else if _, err := c.registry.Upsert(cameraId, metadataPatch(msg)); err != nil {
		return err
	}

	if down {
		if c.halter != nil {
			c.halter.Halt(cameraId)
		}
		if _, err := c.registry.Transition(cameraId, registry.StatusOffline); err != nil {
			return err
		}
		logger.SInfo("camera reported down", zap.String("cameraId", cameraId))
	} else if err := c.heartbeat(cameraId); err != nil {
		return err
	}

	levels := correlator.Levels{
		Motion:  msg.MotionActive,
		Face:    msg.FaceActive,
		Objects: msg.ObjectsActive,
	}
	if levels.Motion == nil && levels.Face == nil && levels.Objects == nil {
		return nil
	}
	_, err = c.correlator.Apply(cameraId, levels, correlator.Detail{
		Confidence: msg.Confidence,
		Objects:    objectClasses(msg.Objects),
	})
	return err
}

func (c *Channel) heartbeat(cameraId string) error {
	record, err := c.registry.Get(cameraId)
	if err != nil {
		return err
	}
	if record.Status != registry.StatusDiscovered && record.Status != registry.StatusOffline {
		return nil
	}
	_, err = c.registry.Transition(cameraId, registry.StatusOnline)
	return err
}

// register creates a record for a device that was never announced over mDNS.
func (c *Channel) register(cameraId string, msg *events.StatusMessage) error {
	patch := metadataPatch(msg)
	if patch.NodeType == nil {
		basic := registry.NodeTypeBasic
		patch.NodeType = &basic
	}
	if patch.Capabilities == nil {
		patch.Capabilities = []registry.Capability{registry.CapabilityStreaming}
	}

	host := msg.Host
	if host == "" {
		host = cameraId + ".local"
	}
	port := msg.VideoPort
	if port < 1 || port > 65535 {
		port = c.defaultPort
	}
	path := msg.RtspPath
	if path == "" {
		path = cameraId
	}
	connection := registry.Connection{
		Scheme: "rtsp",
		Host:   host,
		Port:   port,
		Path:   path,
	}
	c.credentials.Apply(&connection)
	patch.Connection = &connection

	status := registry.StatusDiscovered
	source := registry.SourceMqtt
	patch.Status = &status
	patch.Source = &source

	if _, err := c.registry.Upsert(cameraId, patch); err != nil {
		return err
	}
	logger.SInfo("camera registered from status message",
		zap.String("cameraId", cameraId),
		zap.String("host", host),
		zap.Int("port", port))
	return nil
}

func (c *Channel) HandleDetection(cameraId string, kind events.Kind, msg *events.DetectionMessage) error {
	levels, ok := correlator.LevelsOf(msg.Event)
	if !ok || !matchesKind(kind, levels) {
		return custerror.FormatInvalidArgument("control: event %q on %s topic", msg.Event, kind)
	}
	_, err := c.correlator.Apply(cameraId, levels, correlator.Detail{
		Confidence: msg.Confidence,
		Objects:    objectClasses(msg.Objects),
		Attributes: msg.Attributes,
	})
	return err
}

// SendCommand publishes without waiting for the device; the outcome shows up in later status messages.
func (c *Channel) SendCommand(ctx context.Context, cameraId string, command string) error {
	if !ValidCommand(command) {
		return custerror.FormatInvalidArgument("control.SendCommand: unknown command %q", command)
	}
	if _, err := c.registry.Get(cameraId); err != nil {
		return err
	}

	c.mu.RLock()
	publisher := c.publisher
	c.mu.RUnlock()
	if publisher == nil {
		return custerror.FormatUnavailable("control.SendCommand: not connected")
	}

	payload, err := sonic.Marshal(&events.CommandMessage{Command: command})
	if err != nil {
		return custerror.FormatInternalError("control.SendCommand: marshal err = %s", err)
	}
	topic := events.Topic(c.namespace, cameraId, events.KindCommand)
	if _, err := publisher.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	}); err != nil {
		return custerror.FormatUnavailable("control.SendCommand: publish err = %s", err)
	}
	logger.SInfo("command published",
		zap.String("topic", topic),
		zap.String("command", command))
	return nil
}

func decodeStatus(payload []byte) (*events.StatusMessage, error) {
	var msg events.StatusMessage
	if err := decodePayload(payload, &msg); err == nil {
		return &msg, nil
	}
	// older firmware publishes a bare status word
	word := strings.TrimSpace(string(payload))
	if word == "" || strings.ContainsAny(word, "{}[]\"") {
		return nil, custerror.FormatInvalidArgument("control: unreadable status payload %q", payload)
	}
	msg.Status = word
	return &msg, nil
}

func decodePayload(payload []byte, out interface{}) error {
	var raw map[string]interface{}
	if err := sonic.Unmarshal(payload, &raw); err != nil {
		return custerror.FormatInvalidArgument("control: payload is not a JSON object err = %s", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return custerror.FormatInternalError("control: decoder err = %s", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return custerror.FormatInvalidArgument("control: payload fields err = %s", err)
	}
	return nil
}

func isDown(msg *events.StatusMessage) (bool, error) {
	if msg.Online != nil {
		return !*msg.Online, nil
	}
	switch strings.ToLower(msg.Status) {
	case "", "online", "streaming", "idle":
		return false, nil
	case "offline", "shutdown":
		return true, nil
	}
	return false, custerror.FormatInvalidArgument("control: unknown status %q", msg.Status)
}

func metadataPatch(msg *events.StatusMessage) registry.Patch {
	var patch registry.Patch
	if msg.Name != "" {
		name := msg.Name
		patch.Name = &name
	}
	if msg.NodeType != "" {
		nodeType := registry.ParseNodeType(msg.NodeType)
		patch.NodeType = &nodeType
	}
	if len(msg.Capabilities) > 0 {
		var raw []string
		for _, c := range msg.Capabilities {
			raw = append(raw, strings.Split(c, ",")...)
		}
		patch.Capabilities = registry.ParseCapabilities(raw)
	}
	return patch
}

func objectClasses(objects []events.ObjectDetection) []string {
	if len(objects) == 0 {
		return nil
	}
	classes := make([]string, 0, len(objects))
	for _, o := range objects {
		classes = append(classes, o.Class)
	}
	return classes
}

func matchesKind(kind events.Kind, levels correlator.Levels) bool {
	switch kind {
	case events.KindMotion:
		return levels.Motion != nil
	case events.KindFace:
		return levels.Face != nil
	case events.KindObjects:
		return levels.Objects != nil
	}
	return false
}
