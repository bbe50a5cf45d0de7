package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/api"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/backend"
	"github.com/user/meetscribe/internal/config"
	"github.com/user/meetscribe/internal/connector/discord"
	"github.com/user/meetscribe/internal/diarize"
	"github.com/user/meetscribe/internal/diarize/speakerid"
	"github.com/user/meetscribe/internal/pipeline"
	"github.com/user/meetscribe/internal/store"
	"github.com/user/meetscribe/internal/stt"
	"github.com/user/meetscribe/internal/stt/deepgram"
	"github.com/user/meetscribe/internal/stt/vosk"
	"github.com/user/meetscribe/internal/summariser/gemini"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	log.Info().Msg("Starting Meetscribe")

	// Discord session shared by all meeting connectors
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord session")
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open Discord session")
	}
	defer session.Close()

	// STT backend shared by all sessions
	transcriber, err := newTranscriber(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transcriber")
	}
	defer transcriber.Close()

	// Archives
	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create file store")
	}
	sqliteStore, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sqlite store")
	}
	defer sqliteStore.Close()

	// Summariser (optional: sessions still archive raw transcripts without it)
	var summariser pipeline.Summariser
	if cfg.GenAIAPIKey != "" {
		gem, err := gemini.NewSummariser(cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create summariser")
		}
		defer gem.Close()
		summariser = gem
	} else {
		log.Warn().Msg("GENAI_API_KEY not set, meeting notes disabled")
	}

	retry := backend.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseBackoff: cfg.RetryBaseBackoff,
		MaxBackoff:  cfg.RetryMaxBackoff,
	}

	factory := func(sessionID, meetingURL string) (*pipeline.Coordinator, error) {
		guildID, channelID, err := parseMeetingURL(meetingURL)
		if err != nil {
			return nil, err
		}

		decoder, err := audio.NewOpusDecoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create audio decoder: %w", err)
		}
		vad, err := audio.NewWebRTCVAD()
		if err != nil {
			return nil, fmt.Errorf("failed to create voice activity detector: %w", err)
		}

		conn := discord.New(session, guildID, channelID, decoder, cfg.ReconnectGrace)
		recognizer := speakerid.NewRecognizer(cfg.SpeakerIDURL, cfg.SpeakerIDAPIKey, sessionID)

		return pipeline.NewCoordinator(
			sessionID,
			pipeline.Config{
				FrameBufferCapacity: cfg.FrameBufferCapacity,
				Segmenter: audio.SegmenterConfig{
					SilenceGap:  cfg.SilenceGap,
					MaxDuration: cfg.MaxSegmentDuration,
					MinDuration: cfg.MinSegmentDuration,
					SampleRate:  audio.SampleRate,
				},
				SegmentTimeout: cfg.SegmentTimeout,
				DrainTimeout:   cfg.DrainTimeout,
			},
			conn,
			vad,
			stt.NewWorker(transcriber, cfg.STTParallelism, retry),
			diarize.NewWorker(recognizer, cfg.DiarizeParallelism, retry),
		), nil
	}

	manager := pipeline.NewManager(factory, summariser, fileStore, sqliteStore)

	server := api.NewServer(manager, fileStore, cfg.HTTPPort)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	log.Info().Int("port", cfg.HTTPPort).Msg("Meetscribe is running. Press Ctrl+C to exit.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("Shutting down...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		manager.StopAll()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All sessions stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
	}
}

func newTranscriber(cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STTBackend {
	case "vosk":
		return vosk.NewTranscriber(cfg.VoskModelPath, audio.SampleRate)
	case "deepgram":
		return deepgram.NewTranscriber(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.DeepgramPunctuate), nil
	default:
		return nil, fmt.Errorf("unsupported STT backend: %s", cfg.STTBackend)
	}
}

// parseMeetingURL splits "discord://<guild_id>/<channel_id>" into its parts.
func parseMeetingURL(meetingURL string) (guildID, channelID string, err error) {
	u, err := url.Parse(meetingURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid meeting_url: %w", err)
	}
	if u.Scheme != "discord" {
		return "", "", fmt.Errorf("unsupported meeting platform: %q", u.Scheme)
	}
	guildID = u.Host
	channelID = strings.TrimPrefix(u.Path, "/")
	if guildID == "" || channelID == "" {
		return "", "", fmt.Errorf("meeting_url must be discord://<guild_id>/<channel_id>")
	}
	return guildID, channelID, nil
}

func setupLogging(level string) {
	// Setup zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	// Set log level
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("level", level).Msg("Logging configured")
}
