package main

import (
	"context"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/opensentry/command/src/control"
	"github.com/opensentry/command/src/correlator"
	"github.com/opensentry/command/src/discovery"
	"github.com/opensentry/command/src/health"
	"github.com/opensentry/command/src/internal/app"
	custbroker "github.com/opensentry/command/src/internal/broker"
	"github.com/opensentry/command/src/internal/cache"
	"github.com/opensentry/command/src/internal/configs"
	custdb "github.com/opensentry/command/src/internal/db"
	custff "github.com/opensentry/command/src/internal/ffmpeg"
	custhttp "github.com/opensentry/command/src/internal/http"
	"github.com/opensentry/command/src/internal/logger"
	custmdns "github.com/opensentry/command/src/internal/mdns"
	custmqtt "github.com/opensentry/command/src/internal/mqtt"
	"github.com/opensentry/command/src/reconciler"
	"github.com/opensentry/command/src/registry"
	"github.com/opensentry/command/src/service"
	"github.com/opensentry/command/src/sidecar"
	"github.com/opensentry/command/src/snapshot"
	"github.com/opensentry/command/src/stream"
)

func main() {
	app.Run(
		time.Second*10,
		func(configs *configs.Configs, zl *zap.Logger) []app.Optioner {
			cameras := registry.New(registry.WithHistoryCap(configs.Registry.HistoryCap))
			credentials := registry.NewCredentials(
				configs.Stream.Username,
				configs.Stream.Password,
				configs.Stream.Secret)

			streams := stream.NewSupervisor(cameras,
				&stream.FFmpegDialer{
					ProbeTimeout: configs.Stream.ProbeTimeout,
					Capture: custff.CaptureOptions{
						BinPath:              configs.Ffmpeg.BinaryPath,
						Fps:                  configs.Stream.Fps,
						Width:                configs.Ffmpeg.Width,
						Height:               configs.Ffmpeg.Height,
						HardwareAcceleration: custff.FFmpegHardwareAccelerationType(configs.Ffmpeg.HardwareAcceleration),
					},
				},
				stream.WithConfig(stream.Config{
					MaxSessions:        configs.Stream.MaxSessions,
					MaxFailures:        configs.Stream.MaxFailures,
					BackoffBase:        configs.Stream.BackoffBase,
					BackoffMax:         configs.Stream.BackoffMax,
					ReadTimeout:        configs.Stream.ReadTimeout,
					MaxRecording:       configs.Recording.MaxDuration,
					RecordingRetention: configs.Recording.Retention,
				}),
				stream.WithEncoders(stream.FFmpegEncoders(custff.RecorderOptions{
					BinPath: configs.Ffmpeg.BinaryPath,
					Fps:     configs.Recording.Fps,
				})),
				stream.WithRecordingCache(cache.New(cache.WithMaxCost(configs.Recording.CacheBytes))),
			)

			channel := control.New(cameras, correlator.New(cameras),
				control.WithNamespace(configs.MqttStore.Namespace),
				control.WithDefaultVideoPort(configs.Stream.DefaultVideoPort),
				control.WithCredentials(credentials),
				control.WithHalter(streams))

			fleet := service.NewFleetService(cameras, streams, channel)
			monitor := health.NewMonitor(cameras, streams,
				health.WithInterval(configs.Health.Interval),
				health.WithStaleAfter(configs.Health.StaleAfter))
			reconcile := reconciler.NewReconciler(streams)
			cameras.Observe(reconcile.Observe)

			var mqttBroker *custbroker.Broker
			if configs.Broker.Enabled {
				b, err := custbroker.New(&configs.Broker)
				if err != nil {
					logger.SFatal("embedded broker setup failed", zap.Error(err))
				}
				mqttBroker = b
			}

			ctx, cancel := context.WithCancel(context.Background())
			var (
				cm       *autopaho.ConnectionManager
				database *sqlx.DB
				writer   *snapshot.Writer
			)

			options := []app.Optioner{
				app.WithHttpServer(custhttp.New(
					custhttp.WithGlobalConfigs(&configs.Public),
					custhttp.WithErrorHandler(custhttp.GlobalErrorHandler()),
					custhttp.WithRegistration(sidecar.NewHttpSidecar(fleet).Registration()),
					custhttp.WithMiddleware(custhttp.CommonPublicMiddlewares(&configs.Public)...),
				)),
				app.WithFactoryHook(func() error {
					if configs.Snapshot.Enabled {
						var err error
						database, err = custdb.New(ctx, custdb.WithGlobalConfigs(&configs.Snapshot))
						if err != nil {
							return err
						}
						writer = snapshot.NewWriter(database, cameras, configs.Snapshot.Interval)
						if err := writer.Init(ctx); err != nil {
							return err
						}
						if err := writer.Start(); err != nil {
							return err
						}
					}

					var err error
					cm, err = custmqtt.NewClient(ctx,
						custmqtt.WithClientGlobalConfigs(&configs.MqttStore),
						custmqtt.WithOnReconnection(channel.Register),
						custmqtt.WithOnConnectError(func(err error) {
							logger.SError("MQTT connection failed", zap.Error(err))
						}),
						custmqtt.WithClientError(control.ClientErrorHandler),
						custmqtt.WithOnServerDisconnect(control.DisconnectHandler),
						custmqtt.WithHandlerRegister(channel.RouterHandler()),
					)
					if err != nil {
						return err
					}
					channel.SetPublisher(cm)

					if !configs.Discovery.Disabled {
						announcements := make(chan custmdns.Announcement, 64)
						browser := custmdns.NewBrowser(announcements,
							custmdns.WithServiceType(configs.Discovery.ServiceType),
							custmdns.WithDomain(configs.Discovery.Domain))
						go func() {
							if err := browser.Run(ctx); err != nil {
								logger.SError("mDNS browser stopped", zap.Error(err))
							}
						}()
						go discovery.NewListener(cameras, announcements, credentials).Run(ctx)
					}

					go reconcile.Run(ctx)
					return monitor.Start()
				}),
				app.WithShutdownHook(func(ctx context.Context) {
					cancel()
					monitor.Stop()
					if writer != nil {
						writer.Stop()
						if _, err := writer.Write(ctx); err != nil {
							logger.SError("final snapshot failed", zap.Error(err))
						}
					}
					if err := streams.Shutdown(ctx); err != nil {
						logger.SError("stream shutdown incomplete", zap.Error(err))
					}
					if cm != nil {
						cm.Disconnect(ctx)
					}
					if database != nil {
						custdb.Stop(ctx, database)
					}
					logger.Close()
				}),
			}
			if mqttBroker != nil {
				options = append(options, app.WithHttpServer(mqttBroker))
			}
			return options
		},
	)
}
