package main

import (
	"context"
	"fmt"

	"github.com/AVVKavvk/livekit-caller/agent"
	"github.com/AVVKavvk/livekit-caller/config"
	"github.com/AVVKavvk/livekit-caller/lkroom"
	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/AVVKavvk/livekit-caller/providers"
	"github.com/AVVKavvk/livekit-caller/rabbitmq"
	"github.com/AVVKavvk/livekit-caller/recordings"
	"github.com/AVVKavvk/livekit-caller/session"
	"github.com/AVVKavvk/livekit-caller/sipcall"
	"github.com/AVVKavvk/livekit-caller/transcripts"
	"github.com/AVVKavvk/livekit-caller/worker"
	"go.uber.org/zap"
)

// runAgent registers the worker and runs one session per dispatched job until ctx ends.
func runAgent(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}
	voice, err := providers.NewRegistry().Build(ctx, cfg)
	if err != nil {
		return err
	}

	broker, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return fmt.Errorf("rabbitmq: %w", err)
	}
	defer broker.Close()
	producer := rabbitmq.NewProducer(broker)
	defer producer.Close()

	a := &agentHost{
		cfg:         cfg,
		voice:       voice,
		dialer:      sipcall.NewFromConfig(cfg),
		transcripts: transcripts.NewStore(cfg.TranscriptsDir, cfg.TranscriptsJSONDir),
		recordings:  recordings.NewStore(cfg.RecordingsDir),
		onTurn:      producer.Hook(ctx),
	}

	w := worker.New(worker.Options{
		URL:       cfg.LiveKitURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		AgentName: cfg.AgentName,
	}, a.newJob)

	logger.Base().Info("starting agent worker",
		zap.String("agent_name", cfg.AgentName),
		zap.String("stt", cfg.STTProvider),
		zap.String("llm", cfg.LLMProvider),
		zap.String("tts", cfg.TTSProvider))
	return w.Run(ctx)
}

// agentHost builds sessions for the worker from process-wide collaborators.
type agentHost struct {
	cfg         *config.Config
	voice       providers.Set
	dialer      *sipcall.Dialer
	transcripts *transcripts.Store
	recordings  *recordings.Store
	onTurn      func(models.LiveTurn)
}

func (a *agentHost) newJob(job models.CallJob, asg worker.Assignment) (worker.Job, error) {
	return session.New(job, session.Deps{
		Connector:       lkroom.NewConnector(asg.URL, asg.Token),
		Dialer:          a.dialer,
		NewConversation: a.newConversation,
		Transcripts:     a.transcripts,
		Recorder:        a.recordings.NewRecorder(job.JobID),
		SpeakFirst:      a.cfg.SpeakFirst,
	}), nil
}

func (a *agentHost) newConversation(job models.CallJob, room session.Room) (session.Conversation, error) {
	lr, ok := room.(*lkroom.Room)
	if !ok {
		return nil, fmt.Errorf("unexpected room type %T", room)
	}
	return agent.New(job, lr.Name(), agent.Options{
		Providers:             a.voice,
		Speaker:               lr.Output(),
		Transferer:            a.dialer,
		DefaultTransferNumber: a.cfg.DefaultTransferNumber,
		RemoteIdentities:      lr.RemoteIdentities,
		OnTurn:                a.onTurn,
	}), nil
}
