package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"gorm.io/gorm"

	"github.com/LeonardoBeccarini/plantpi/internal/blob"
	"github.com/LeonardoBeccarini/plantpi/internal/config"
	"github.com/LeonardoBeccarini/plantpi/internal/hardware"
	"github.com/LeonardoBeccarini/plantpi/internal/history"
	"github.com/LeonardoBeccarini/plantpi/internal/metrics"
	"github.com/LeonardoBeccarini/plantpi/internal/services/api"
	"github.com/LeonardoBeccarini/plantpi/internal/services/station"
	"github.com/LeonardoBeccarini/plantpi/internal/sink"
	"github.com/LeonardoBeccarini/plantpi/pkg/dedup"
	"github.com/LeonardoBeccarini/plantpi/pkg/logger"
	"github.com/LeonardoBeccarini/plantpi/pkg/mqttclient"
	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Fatal().Err(err).Msg("station stopped")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	log := logger.WithComponent("station")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	ready := map[string]func(context.Context) bool{}

	// === Hardware ===
	rig, err := hardware.Build(cfg.Hardware, cfg.Jobs.CaptureSubjects)
	if err != nil {
		return err
	}
	defer rig.Close()

	// === Influx ===
	var influx influxdb2.Client
	if cfg.Influx.Enabled || cfg.History.Backend == "influx" {
		influx = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		ready["influx"] = func(ctx context.Context) bool {
			ok, err := influx.Ping(ctx)
			return err == nil && ok
		}
	}

	// === MQTT ===
	var mqttClient mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqttclient.Connect(ctx, mqttclient.Config{
			Host:       cfg.MQTT.Host,
			Port:       cfg.MQTT.Port,
			User:       cfg.MQTT.User,
			Password:   cfg.MQTT.Password,
			ClientID:   cfg.MQTT.ClientID,
			MaxElapsed: 2 * time.Minute,
		}, logger.WithComponent("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt connection: %w", err)
		}
		defer mqttclient.Close(mqttClient)
		ready["mqtt"] = func(context.Context) bool { return mqttClient.IsConnectionOpen() }
	}

	// === History ===
	store, err := openStore(cfg, influx, ready)
	if err != nil {
		return err
	}
	var sinks []sink.Sink
	if cfg.Influx.Enabled && cfg.History.Backend != "influx" {
		w := influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket)
		sinks = append(sinks, guard(sink.NewInfluxSink(w, cfg.Station.RequestTimeout), cfg))
	}
	if mqttClient != nil {
		pub := mqttclient.NewPublisher(mqttClient, 1)
		sinks = append(sinks, guard(sink.NewMQTTSink(pub, cfg.MQTT.ReadingTopic), cfg))
	}
	hist := history.NewService(store, history.NewStreams(cfg.Streams), history.Options{
		DefaultThreshold: cfg.History.DefaultThreshold,
		DefaultLimit:     cfg.History.DefaultLimit,
		MaxLimit:         cfg.History.MaxLimit,
		Logger:           logger.WithComponent("history"),
		Recorder:         m,
	}, sinks...)

	// === Blobs ===
	uploader, err := openUploader(cfg)
	if err != nil {
		return err
	}

	// === Station ===
	sched := scheduler.New(scheduler.WithLogger(logger.WithComponent("scheduler")), scheduler.WithObserver(m))
	ready["scheduler"] = func(context.Context) bool { return sched.Started() }
	st := station.New(rig, hist, uploader, sched, station.Options{
		ImageDir: cfg.Station.ImageDir,
		Subjects: cfg.Jobs.CaptureSubjects,
		Recorder: m,
		Logger:   log,
	})
	if err := st.RegisterJobs(cfg.Jobs); err != nil {
		return err
	}

	readyFn := func() map[string]bool {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		out := make(map[string]bool, len(ready))
		for name, check := range ready {
			out[name] = check(pctx)
		}
		return out
	}

	// === HTTP ===
	archiveDir := ""
	if cfg.Blob.Backend == "dir" {
		archiveDir = cfg.Blob.Dir.Path
	}
	router := api.NewRouter(api.Deps{
		Station:    st,
		History:    hist,
		Blobs:      uploader,
		Scheduler:  sched,
		Metrics:    m,
		ImageDir:   cfg.Station.ImageDir,
		ArchiveDir: archiveDir,
		Ready:      readyFn,
		Timeout:    cfg.Station.RequestTimeout,
		Logger:     logger.WithComponent("http"),
	})
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	// === gRPC health ===
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		hsrv := station.NewHealthServer(readyFn, logger.WithComponent("grpc"))
		go func() {
			if err := hsrv.Serve(ctx, lis, 10*time.Second); err != nil {
				log.Error().Err(err).Msg("grpc health server")
			}
		}()
	}

	// === Commands ===
	var commands *station.CommandHandler
	if mqttClient != nil {
		commands = station.NewCommandHandler(ctx, st, dedup.New(10*time.Minute, 1000), logger.WithComponent("commands"))
		consumer := mqttclient.NewConsumer(mqttClient, cfg.MQTT.CommandTopic, 1, logger.WithComponent("commands"))
		consumer.SetHandler(commands.Handle)
		go func() {
			if err := consumer.ConsumeMessage(ctx); err != nil {
				log.Error().Err(err).Msg("command consumer")
			}
		}()
	}

	sched.Start(ctx)
	log.Info().Str("station", cfg.Station.Name).Int("jobs", len(sched.Jobs())).Msg("station started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shCtx)
	sched.Wait()
	if commands != nil {
		commands.Wait()
	}
	return nil
}

func guard(s sink.Sink, cfg *config.Config) sink.Sink {
	return sink.NewBreaker(s, cfg.Breaker.Failures, cfg.Breaker.OpenFor, logger.WithComponent("sink"))
}

func openStore(cfg *config.Config, influx influxdb2.Client, ready map[string]func(context.Context) bool) (history.Store, error) {
	switch cfg.History.Backend {
	case "sql":
		db, err := history.Open(cfg.History.SQL)
		if err != nil {
			return nil, err
		}
		ready["history"] = func(ctx context.Context) bool { return ping(ctx, db) }
		return history.NewSQLStore(db), nil
	case "influx":
		w := influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket)
		q := influx.QueryAPI(cfg.Influx.Org)
		return history.NewInfluxStore(w, q, cfg.Influx.Bucket, cfg.Station.RequestTimeout), nil
	default:
		return history.NewMemoryStore(), nil
	}
}

func ping(ctx context.Context, db *gorm.DB) bool {
	sqlDB, err := db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func openUploader(cfg *config.Config) (blob.Uploader, error) {
	var up blob.Uploader
	switch cfg.Blob.Backend {
	case "azure":
		az, err := blob.NewAzureUploader(cfg.Blob.Azure.ConnectionString, cfg.Blob.Azure.Container, cfg.Station.RequestTimeout)
		if err != nil {
			return nil, err
		}
		up = az
	case "peer":
		up = blob.NewPeerUploader(cfg.Blob.Peer.URL, cfg.Station.RequestTimeout)
	default:
		up = blob.NewDirUploader(cfg.Blob.Dir.Path, cfg.Blob.Dir.BaseURL)
	}
	return blob.WithBreaker(up, cfg.Breaker.Failures, cfg.Breaker.OpenFor), nil
}
