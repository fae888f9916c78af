package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/rs/zerolog"

	"parking-checkin/internal/config"
	"parking-checkin/internal/db"
	"parking-checkin/internal/gate"
	httpapi "parking-checkin/internal/http"
	"parking-checkin/internal/logger"
	"parking-checkin/internal/metrics"
	"parking-checkin/internal/repository"
	"parking-checkin/internal/scanner"
	"parking-checkin/internal/service"
	"parking-checkin/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("info", false)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()
	log.Info().Msg("connected to database")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}

	m := metrics.New()
	repo := repository.NewCheckinRepository(gdb)

	engine, err := newEngine(cfg, awsCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up ocr engine")
	}
	recognizer := vision.NewRecognizer(engine,
		vision.EngineOptions{Alphabet: cfg.Scanner.Alphabet, SingleLine: true},
		vision.AcceptancePolicy{MinConfidence: cfg.Scanner.MinConfidence, MinLength: cfg.Scanner.MinLength},
		m, log.With().Str("component", "recognizer").Logger())
	pipeline := scanner.NewPipeline(vision.NewPreprocessor(cfg.Scanner.CropWidthFraction, cfg.Scanner.CropHeightFraction), recognizer)

	matcher := service.NewMatcher(repo, cfg.Scanner.LookupTimeout, m, log.With().Str("component", "matcher").Logger())
	checkinService := service.NewCheckinService(matcher, repo, newGate(cfg, awsCfg, log), pipeline, log)
	bookingService := service.NewBookingService(repo, log)

	sessions := scanner.NewManager(pipeline, checkinService, cfg.Scanner.Interval, m, log.With().Str("component", "scanner").Logger())

	handler := httpapi.NewHandler(checkinService, bookingService, sessions, cfg, log)
	router := httpapi.NewRouter(cfg, handler, m, log)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runCleanup(ctx, checkinService, cfg.Scanner, log)

	go func() {
		log.Info().Str("address", cfg.HTTP.Address).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	log.Info().Msg("server stopped")
}

func newEngine(cfg *config.Config, awsCfg aws.Config, log zerolog.Logger) (vision.Engine, error) {
	switch cfg.OCR.Provider {
	case config.OCRProviderHTTP:
		log.Info().Str("endpoint", cfg.OCR.Endpoint).Msg("using http ocr engine")
		return vision.NewHTTPEngine(cfg.OCR.Endpoint, cfg.OCR.Timeout), nil
	case config.OCRProviderRekognition:
		log.Info().Str("region", cfg.AWS.Region).Msg("using rekognition ocr engine")
		return vision.NewRekognitionEngine(rekognition.NewFromConfig(awsCfg), log), nil
	default:
		return nil, errors.New("unknown ocr provider " + cfg.OCR.Provider)
	}
}

func newGate(cfg *config.Config, awsCfg aws.Config, log zerolog.Logger) gate.Opener {
	if !cfg.Gate.Enabled {
		return gate.Noop{}
	}
	endpoint := cfg.Gate.IoTEndpoint
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		endpoint = "https://" + endpoint
	}
	client := iotdataplane.NewFromConfig(awsCfg, func(o *iotdataplane.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	log.Info().Str("endpoint", endpoint).Str("topic_prefix", cfg.Gate.TopicPrefix).Msg("gate control enabled")
	return gate.NewIoTGate(client, cfg.Gate.TopicPrefix, log)
}

// runCleanup deletes expired scan events once at startup and then on every tick.
func runCleanup(ctx context.Context, svc *service.CheckinService, cfg config.ScannerConfig, log zerolog.Logger) {
	if cfg.EventRetentionDays <= 0 || cfg.CleanupInterval <= 0 {
		log.Info().Msg("scan event cleanup disabled")
		return
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		if _, err := svc.CleanupOldEvents(ctx, cfg.EventRetentionDays); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("scan event cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
