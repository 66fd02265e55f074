package configs

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	custerror "github.com/opensentry/command/src/internal/error"

	"gopkg.in/yaml.v3"
)

const ENV_CONFIG_FILE_PATH = "ENV_CONFIG_FILE_PATH"

var globalConfigs *Configs

type Configs struct {
	Public    HttpConfigs       `json:"public,omitempty" yaml:"public,omitempty"`
	Logger    LoggerConfigs     `json:"logger,omitempty" yaml:"logger,omitempty"`
	MqttStore EventStoreConfigs `json:"mqttStore,omitempty" yaml:"mqttStore,omitempty"`
	Broker    BrokerConfigs     `json:"broker,omitempty" yaml:"broker,omitempty"`
	Discovery DiscoveryConfigs  `json:"discovery,omitempty" yaml:"discovery,omitempty"`
	Stream    StreamConfigs     `json:"stream,omitempty" yaml:"stream,omitempty"`
	Recording RecordingConfigs  `json:"recording,omitempty" yaml:"recording,omitempty"`
	Health    HealthConfigs     `json:"health,omitempty" yaml:"health,omitempty"`
	Registry  RegistryConfigs   `json:"registry,omitempty" yaml:"registry,omitempty"`
	Snapshot  SnapshotConfigs   `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Ffmpeg    FfmpegConfigs     `json:"ffmpeg,omitempty" yaml:"ffmpeg,omitempty"`
}

// String renders the configuration with secrets masked.
func (c Configs) String() string {
	masked := c
	masked.MqttStore.Password = mask(masked.MqttStore.Password)
	masked.Stream.Password = mask(masked.Stream.Password)
	masked.Stream.Secret = mask(masked.Stream.Secret)
	masked.Public.Auth.Token = mask(masked.Public.Auth.Token)
	configBytes, _ := json.Marshal(masked)
	return string(configBytes)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func Init(ctx context.Context) {
	configs, err := readConfig()
	if err != nil {
		log.Fatal(err)
		return
	}
	globalConfigs = configs
}

func Get() *Configs {
	return globalConfigs
}

type HttpConfigs struct {
	Name string           `json:"name,omitempty" yaml:"name,omitempty"`
	Port int              `json:"port,omitempty" yaml:"port,omitempty"`
	Tls  TlsConfig        `json:"tls,omitempty" yaml:"tls,omitempty"`
	Auth BasicAuthConfigs `json:"auth,omitempty" yaml:"auth,omitempty"`
}

type TlsConfig struct {
	Cert      string `json:"cert,omitempty" yaml:"cert,omitempty"`
	Key       string `json:"key,omitempty" yaml:"key,omitempty"`
	Authority string `json:"authority,omitempty" yaml:"authority,omitempty"`
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func (c TlsConfig) IsEnabled() bool {
	if len(c.Cert) > 0 && len(c.Key) > 0 {
		return true
	}
	if c.Enabled {
		return true
	}
	return false
}

type LoggerConfigs struct {
	Level    string `json:"level,omitempty" yaml:"level,omitempty"`
	Encoding string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

type BasicAuthConfigs struct {
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
}

func (c BasicAuthConfigs) Enabled() bool {
	return len(c.Username) > 0 && len(c.Token) > 0
}

type EventStoreConfigs struct {
	Host                 string        `json:"host,omitempty" yaml:"host,omitempty"`
	Port                 int           `json:"port,omitempty" yaml:"port,omitempty"`
	Name                 string        `json:"name,omitempty" yaml:"name,omitempty"`
	TlsEnabled           bool          `json:"tlsEnabled,omitempty" yaml:"tlsEnabled,omitempty"`
	Username             string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password             string        `json:"password,omitempty" yaml:"password,omitempty"`
	Namespace            string        `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	ConnectRetryDelay    time.Duration `json:"connectRetryDelay,omitempty" yaml:"connectRetryDelay,omitempty"`
	ConnectRetryMaxDelay time.Duration `json:"connectRetryMaxDelay,omitempty" yaml:"connectRetryMaxDelay,omitempty"`
}

func (c *EventStoreConfigs) HasAuth() bool {
	return len(c.Username) > 0 && len(c.Password) > 0
}

type BrokerConfigs struct {
	Enabled bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

type DiscoveryConfigs struct {
	Disabled    bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	ServiceType string `json:"serviceType,omitempty" yaml:"serviceType,omitempty"`
	Domain      string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

type StreamConfigs struct {
	MaxSessions      int           `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`
	MaxFailures      int           `json:"maxFailures,omitempty" yaml:"maxFailures,omitempty"`
	BackoffBase      time.Duration `json:"backoffBase,omitempty" yaml:"backoffBase,omitempty"`
	BackoffMax       time.Duration `json:"backoffMax,omitempty" yaml:"backoffMax,omitempty"`
	ReadTimeout      time.Duration `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	ProbeTimeout     time.Duration `json:"probeTimeout,omitempty" yaml:"probeTimeout,omitempty"`
	Fps              int           `json:"fps,omitempty" yaml:"fps,omitempty"`
	DefaultVideoPort int           `json:"defaultVideoPort,omitempty" yaml:"defaultVideoPort,omitempty"`
	Username         string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string        `json:"password,omitempty" yaml:"password,omitempty"`
	Secret           string        `json:"secret,omitempty" yaml:"secret,omitempty"`
}

type RecordingConfigs struct {
	MaxDuration time.Duration `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`
	Fps         int           `json:"fps,omitempty" yaml:"fps,omitempty"`
	CacheBytes  int64         `json:"cacheBytes,omitempty" yaml:"cacheBytes,omitempty"`
	Retention   time.Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
}

type HealthConfigs struct {
	Interval   time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	StaleAfter time.Duration `json:"staleAfter,omitempty" yaml:"staleAfter,omitempty"`
}

type RegistryConfigs struct {
	HistoryCap int `json:"historyCap,omitempty" yaml:"historyCap,omitempty"`
}

type SnapshotConfigs struct {
	Enabled  bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty"`
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

type FfmpegConfigs struct {
	BinaryPath           string `json:"binaryPath,omitempty" yaml:"binaryPath,omitempty"`
	HardwareAcceleration string `json:"hardwareAcceleration,omitempty" yaml:"hardwareAcceleration,omitempty"`
	Width                int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height               int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// WithDefaults fills every zero value with the value the system runs with out of the box.
func (c *Configs) WithDefaults() *Configs {
	if c.Public.Name == "" {
		c.Public.Name = "sidecar"
	}
	if c.Public.Port == 0 {
		c.Public.Port = 5000
	}
	if c.MqttStore.Host == "" {
		c.MqttStore.Host = "localhost"
	}
	if c.MqttStore.Port == 0 {
		c.MqttStore.Port = 1883
	}
	if c.MqttStore.Name == "" {
		c.MqttStore.Name = "opensentry_command_center"
	}
	if c.MqttStore.Namespace == "" {
		c.MqttStore.Namespace = "opensentry"
	}
	if c.MqttStore.ConnectRetryDelay == 0 {
		c.MqttStore.ConnectRetryDelay = 5 * time.Second
	}
	if c.MqttStore.ConnectRetryMaxDelay == 0 {
		c.MqttStore.ConnectRetryMaxDelay = 2 * time.Minute
	}
	if c.Broker.Address == "" {
		c.Broker.Address = ":1883"
	}
	if c.Discovery.ServiceType == "" {
		c.Discovery.ServiceType = "_opensentry._tcp"
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = "local."
	}
	if c.Stream.MaxSessions == 0 {
		c.Stream.MaxSessions = 32
	}
	if c.Stream.MaxFailures == 0 {
		c.Stream.MaxFailures = 60
	}
	if c.Stream.BackoffBase == 0 {
		c.Stream.BackoffBase = 5 * time.Second
	}
	if c.Stream.BackoffMax == 0 {
		c.Stream.BackoffMax = 30 * time.Second
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = 5 * time.Second
	}
	if c.Stream.ProbeTimeout == 0 {
		c.Stream.ProbeTimeout = 3 * time.Second
	}
	if c.Stream.Fps == 0 {
		c.Stream.Fps = 15
	}
	if c.Stream.DefaultVideoPort == 0 {
		c.Stream.DefaultVideoPort = 8554
	}
	if c.Recording.MaxDuration == 0 {
		c.Recording.MaxDuration = 10 * time.Minute
	}
	if c.Recording.Fps == 0 {
		c.Recording.Fps = c.Stream.Fps
	}
	if c.Recording.CacheBytes == 0 {
		c.Recording.CacheBytes = 512 << 20
	}
	if c.Recording.Retention == 0 {
		c.Recording.Retention = time.Hour
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = 10 * time.Second
	}
	if c.Health.StaleAfter == 0 {
		c.Health.StaleAfter = 60 * time.Second
	}
	if c.Registry.HistoryCap == 0 {
		c.Registry.HistoryCap = 100
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "opensentry.db"
	}
	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = 30 * time.Second
	}
	return c
}

func readConfig() (*Configs, error) {
	path, err := getConfigFilePath()
	if err != nil {
		return nil, err
	}
	configFile, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	configs, err := parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	return configs.WithDefaults(), nil
}

func getConfigFilePath() (string, error) {
	path := os.Getenv(ENV_CONFIG_FILE_PATH)
	if len(path) == 0 {
		return "", custerror.FormatNotFound("ENV_CONFIG_FILE_PATH not found, unable to read configurations")
	}
	return path, nil
}

func readConfigFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, custerror.FormatNotFound("readConfigFile: file not found")
		}
		return nil, custerror.FormatInternalError("readConfigFile: err = %s", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, custerror.FormatInternalError("readConfigFile: err = %s", err)
	}

	return contents, nil
}

func parseConfig(contents []byte) (*Configs, error) {
	configs := &Configs{}
	if jsonErr := json.Unmarshal(contents, configs); jsonErr != nil {
		configs = &Configs{}
		if yamlErr := yaml.Unmarshal(contents, configs); yamlErr != nil {
			return nil, custerror.FormatInvalidArgument("parseConfig: config parse JSON err = %s YAML err = %s", jsonErr, yamlErr)
		}
	}
	return configs, nil
}
