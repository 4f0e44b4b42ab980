// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rapidaai/api/recorder-api/config"
	internal_assembler "github.com/rapidaai/api/recorder-api/internal/assembler"
	internal_capture "github.com/rapidaai/api/recorder-api/internal/audio/capture"
	internal_recorder "github.com/rapidaai/api/recorder-api/internal/audio/recorder"
	internal_tap "github.com/rapidaai/api/recorder-api/internal/audio/tap"
	internal_credential "github.com/rapidaai/api/recorder-api/internal/credential"
	internal_session "github.com/rapidaai/api/recorder-api/internal/session"
	internal_store "github.com/rapidaai/api/recorder-api/internal/store"
	internal_transcription "github.com/rapidaai/api/recorder-api/internal/transcription"
	internal_type "github.com/rapidaai/api/recorder-api/internal/type"
	internal_upload "github.com/rapidaai/api/recorder-api/internal/upload"
	"github.com/rapidaai/pkg/commons"
	"github.com/rapidaai/pkg/utils"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := internal_store.NewSqliteStore(logger, cfg.DatabasePath)
	if err != nil {
		logger.Errorf("failed to open store: %v", err)
		os.Exit(1)
	}

	credentialOpts := utils.Option{}
	if cfg.TokenScope != "" {
		credentialOpts["scope"] = cfg.TokenScope
	}
	provider := internal_credential.NewHTTPProvider(logger, cfg.TokenHost, cfg.ApiKey, credentialOpts)
	var uploader internal_type.Uploader
	if cfg.UploadHost != "" {
		uploader = internal_upload.NewRestyUploader(logger, cfg.UploadHost, cfg.ApiKey)
	}

	// The capture callbacks are created before the coordinator exists, so
	// they route through this indirection.
	var coordinator *internal_session.Coordinator
	frameHandler := func(source internal_type.AudioSource, pcm []byte, level float64) {
		coordinator.HandleFrame(source, pcm, level)
	}
	fatalHandler := func(err error) {
		coordinator.HandleFatal(err)
	}

	tap := internal_tap.NewLoopbackTap(logger, "")
	tapController := internal_tap.NewController(logger, tap, internal_tap.NewStaticObserver(nil),
		internal_tap.WithFatalHandler(func(err *internal_type.TapError) {
			coordinator.HandleFatal(err)
		}))

	micSource := internal_capture.NewMicrophoneSource(logger, frameHandler,
		internal_capture.WithDevice(cfg.InputDevice),
		internal_capture.WithFatalHandler(fatalHandler))
	systemSource := internal_capture.NewSystemSource(logger, tap, frameHandler,
		internal_capture.WithFatalHandler(fatalHandler))

	assembler := internal_assembler.New(logger)
	coordinator = internal_session.NewCoordinator(logger, internal_session.Config{
		Store:     store,
		Assembler: assembler,
		Uploader:  uploader,
		NewRecorder: func(sessionID string) (internal_type.Recorder, error) {
			return internal_recorder.NewWavRecorder(logger, cfg.RecordingDir, sessionID)
		},
		Captures: []internal_type.CaptureSource{micSource, systemSource},
		Tap:      tapController,
	})

	handlers := coordinator.TranscriptionHandlers()
	for _, source := range internal_type.Sources() {
		client := internal_transcription.NewClient(logger, source, cfg.TranscriptionHost, provider, handlers,
			internal_transcription.WithLanguage(cfg.Language),
			internal_transcription.WithMaxLatency(cfg.MaxLatencyMs))
		coordinator.RegisterStreamer(client)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	utils.Go(ctx, func() {
		for snapshot := range coordinator.Updates() {
			if snapshot.ErrorMessage != "" && !snapshot.Transient {
				logger.Warnf("session %s: %s", snapshot.SessionID, snapshot.ErrorMessage)
			}
		}
	})

	sessionID := os.Getenv("RESUME_SESSION_ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := coordinator.Start(ctx, sessionID, nil); err != nil {
		logger.Errorf("failed to start recording session: %v", err)
		os.Exit(1)
	}
	logger.Infof("recording session %s; press Ctrl-C to stop", sessionID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := coordinator.Stop(stopCtx); err != nil {
		logger.Errorf("failed to stop recording session: %v", err)
	}
}
