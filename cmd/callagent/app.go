package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/teslashibe/go-callagent/internal/config"
	"github.com/teslashibe/go-callagent/pkg/audioio"
	"github.com/teslashibe/go-callagent/pkg/inference"
	"github.com/teslashibe/go-callagent/pkg/knowledge"
	"github.com/teslashibe/go-callagent/pkg/persona"
	"github.com/teslashibe/go-callagent/pkg/room"
	"github.com/teslashibe/go-callagent/pkg/scheduling"
	"github.com/teslashibe/go-callagent/pkg/session"
	"github.com/teslashibe/go-callagent/pkg/stt"
	"github.com/teslashibe/go-callagent/pkg/telephony"
	"github.com/teslashibe/go-callagent/pkg/tools"
	"github.com/teslashibe/go-callagent/pkg/tts"
	"github.com/teslashibe/go-callagent/pkg/turn"
	"github.com/teslashibe/go-callagent/pkg/vad"
)

// app holds the process-wide collaborators every call shares.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	persona *persona.Persona

	llm       *inference.Client
	stt       *stt.Deepgram
	tts       tts.Provider
	telephony *telephony.LiveKit
	retriever *knowledge.Retriever
	scheduler scheduling.Scheduler

	closers []io.Closer
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	p, err := persona.Load(cfg.ProfileFile, cfg.PromptFile, time.Now())
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}
	a.persona = p

	a.llm, err = inference.NewClient(
		inference.WithBaseURL(cfg.LLMBaseURL),
		inference.WithAPIKey(cfg.OpenAIKey),
		inference.WithModel(cfg.LLMModel),
		inference.WithEmbedModel(cfg.EmbeddingModel),
		inference.WithEmbedDimensions(cfg.EmbeddingDimensions),
		inference.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("language model: %w", err)
	}
	a.closers = append(a.closers, a.llm)

	a.stt, err = stt.NewDeepgram(
		stt.WithAPIKey(cfg.DeepgramKey),
		stt.WithModel(cfg.STTModel),
		stt.WithLanguage(cfg.Language),
		stt.WithSampleRate(audioio.RateSTT),
		stt.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("speech to text: %w", err)
	}
	a.closers = append(a.closers, a.stt)

	if a.tts, err = a.newTTS(); err != nil {
		return fmt.Errorf("text to speech: %w", err)
	}
	a.closers = append(a.closers, a.tts)

	a.telephony = telephony.NewLiveKit(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, a.logger)

	store, err := a.newKnowledgeStore(ctx)
	if err != nil {
		return fmt.Errorf("knowledge store: %w", err)
	}
	if store != nil {
		a.closers = append(a.closers, store)
	}
	a.retriever = knowledge.NewRetriever(a.llm, store,
		knowledge.WithTopK(cfg.TopK),
		knowledge.WithEmbedModel(cfg.EmbeddingModel),
		knowledge.WithDimensions(cfg.EmbeddingDimensions),
		knowledge.WithLogger(a.logger),
	)

	if a.scheduler, err = a.newScheduler(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// newTTS prefers the Cartesia websocket and falls back to HTTP streaming.
func (a *app) newTTS() (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithAPIKey(a.cfg.CartesiaKey),
		tts.WithModel(a.cfg.TTSModel),
		tts.WithLanguage(a.cfg.Language),
		tts.WithLogger(a.logger),
	}
	voice := a.cfg.TTSVoice
	if voice == "" {
		voice = a.persona.Profile.Voice
	}
	if voice != "" {
		opts = append(opts, tts.WithVoice(voice))
	}

	ws, err := tts.NewCartesiaWS(opts...)
	if err != nil {
		return nil, err
	}
	httpTTS, err := tts.NewCartesia(opts...)
	if err != nil {
		return nil, err
	}
	return tts.NewChainWithLogger(a.logger, ws, httpTTS)
}

func (a *app) newKnowledgeStore(ctx context.Context) (knowledge.Store, error) {
	switch {
	case a.cfg.SupabaseURL != "":
		a.logger.Info("knowledge base: supabase")
		return knowledge.NewSupabaseStore(a.cfg.SupabaseURL, a.cfg.SupabaseKey), nil
	case a.cfg.KnowledgeDatabaseURL != "":
		a.logger.Info("knowledge base: postgres")
		return knowledge.NewPostgresStore(ctx, a.cfg.KnowledgeDatabaseURL)
	}
	a.logger.Warn("knowledge base not configured")
	return nil, nil
}

// newScheduler picks the MCP server when one is configured, then Google
// Calendar. With neither the scheduling tools answer with a fallback.
func (a *app) newScheduler(ctx context.Context) (scheduling.Scheduler, error) {
	cfg := a.cfg
	switch {
	case cfg.MCPServer != "":
		a.logger.Info("scheduling: mcp", "server", cfg.MCPServer)
		m := scheduling.NewMCP(scheduling.MCPConfig{
			Endpoint:       cfg.MCPServer,
			Token:          cfg.MCPToken,
			Timeout:        cfg.MCPTimeout,
			SessionTimeout: cfg.MCPSessionTimeout,
			Logger:         a.logger,
		})
		a.closers = append(a.closers, m)
		return m, nil

	case cfg.GoogleCalendarID != "" && cfg.GoogleCredentialsFile != "":
		a.logger.Info("scheduling: google calendar", "calendar", cfg.GoogleCalendarID)
		svc, err := scheduling.NewCalendarService(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, err
		}
		leads, err := scheduling.NewLeadBook(scheduling.NewJSONStore(cfg.LeadsFile))
		if err != nil {
			return nil, err
		}
		loc, err := time.LoadLocation(cfg.CalendarTimeZone)
		if err != nil {
			return nil, fmt.Errorf("calendar time zone: %w", err)
		}
		calCfg := scheduling.DefaultCalendarConfig(cfg.GoogleCalendarID, loc)
		calCfg.Logger = a.logger
		return scheduling.NewCalendar(svc, leads, calCfg), nil
	}
	a.logger.Warn("scheduling not configured")
	return nil, nil
}

// toolset builds the per-call dispatcher. Slots start empty on every call.
func (a *app) toolset(call tools.Call) turn.Toolset {
	return tools.NewDispatcher(tools.Deps{
		Knowledge:  a.retriever,
		Scheduler:  a.scheduler,
		Telephony:  a.telephony,
		Call:       call,
		TransferTo: a.cfg.TransferTo,
		Profile:    a.persona.Profile,
		Logger:     a.logger,
	})
}

func (a *app) dial(ctx context.Context, roomName string) (session.Transport, error) {
	return room.Connect(ctx, room.Config{
		URL:       a.cfg.LiveKitURL,
		APIKey:    a.cfg.LiveKitAPIKey,
		APISecret: a.cfg.LiveKitAPISecret,
		Room:      roomName,
		Identity:  a.cfg.AgentName,
		Logger:    a.logger,
	})
}

func (a *app) sessionDeps() session.Deps {
	return session.Deps{
		Dial:      a.dial,
		Telephony: a.telephony,
		LLM:       a.llm,
		TTS:       a.tts,
		STT:       a.stt,
		Tools:     a.toolset,

		TurnDetector: vad.NewTurnDetector(a.cfg.Language),
	}
}

func (a *app) sessionConfig() session.Config {
	cfg := a.cfg

	t := turn.DefaultConfig()
	t.Instructions = a.persona.Instructions
	t.Model = cfg.LLMModel
	t.MinEndpointingDelay = cfg.MinEndpointingDelay
	t.MaxEndpointingDelay = cfg.MaxEndpointingDelay
	t.MinInterruptionDuration = cfg.MinInterruptionDuration
	t.MinInterruptionWords = cfg.MinInterruptionWords
	t.MaxToolSteps = cfg.MaxToolSteps
	t.PreemptiveGeneration = cfg.PreemptiveGeneration
	t.OutputRate = audioio.RateTransport
	t.VAD = vad.DefaultConfig()
	t.VAD.ActivationThreshold = cfg.VADActivation
	t.VAD.MinSpeech = cfg.VADMinSpeech
	t.VAD.MinSilence = cfg.VADMinSilence
	t.VAD.Logger = a.logger
	t.Logger = a.logger

	s := session.DefaultConfig()
	s.Turn = t
	s.Profile = a.persona.Profile
	s.GreetingDelay = cfg.GreetingDelay
	s.ParticipantTimeout = cfg.ParticipantTimeout
	s.FarewellTimeout = cfg.FarewellTimeout
	s.Logger = a.logger
	return s
}

// Close releases collaborators in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
