// Package worker registers this process with LiveKit as a named agent and runs one
// job per dispatched room.
//
// The worker keeps a websocket to <LIVEKIT_URL>/agent carrying protobuf
// WorkerMessage/ServerMessage frames. Every offered job is accepted. Assigned jobs
// run until they finish or the server terminates them; on shutdown every running
// job is asked to stop and awaited.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AVVKavvk/livekit-caller/logger"
	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const (
	agentVersion   = "1.0.0"
	defaultPing    = 10 * time.Second
	maxBackoff     = 30 * time.Second
	initialBackoff = time.Second
)

// Job is one running call.
type Job interface {
	Run(ctx context.Context) error
	Shutdown(reason string)
}

// Assignment carries what a job needs to join its room.
type Assignment struct {
	URL   string
	Token string
}

type JobFactory func(job models.CallJob, a Assignment) (Job, error)

type Options struct {
	URL       string
	APIKey    string
	APISecret string
	AgentName string
}

type Worker struct {
	opts   Options
	newJob JobFactory
	dialer *websocket.Dialer
	ping   time.Duration
	log    *zap.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu   sync.Mutex
	jobs map[string]Job
	wg   sync.WaitGroup
}

func New(opts Options, newJob JobFactory) *Worker {
	return &Worker{
		opts:   opts,
		newJob: newJob,
		dialer: websocket.DefaultDialer,
		ping:   defaultPing,
		log:    logger.Base().With(zap.String("agent_name", opts.AgentName)),
		jobs:   map[string]Job{},
	}
}

// Run serves jobs until ctx is cancelled, reconnecting with backoff when the
// connection drops. Running jobs survive reconnects.
func (w *Worker) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := w.serve(ctx)
		if ctx.Err() != nil {
			w.shutdownJobs("worker shutting down")
			return nil
		}
		w.log.Warn("worker connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			w.shutdownJobs("worker shutting down")
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (w *Worker) agentURL() (string, error) {
	u, err := url.Parse(w.opts.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent"
	return u.String(), nil
}

func (w *Worker) token() (string, error) {
	return auth.NewAccessToken(w.opts.APIKey, w.opts.APISecret).
		SetVideoGrant(&auth.VideoGrant{Agent: true}).
		ToJWT()
}

func (w *Worker) serve(ctx context.Context) error {
	target, err := w.agentURL()
	if err != nil {
		return fmt.Errorf("invalid LIVEKIT_URL: %w", err)
	}
	jwt, err := w.token()
	if err != nil {
		return fmt.Errorf("sign worker token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+jwt)

	conn, _, err := w.dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()
	stop := make(chan struct{})
	defer func() {
		close(stop)
		w.writeMu.Lock()
		w.conn = nil
		w.writeMu.Unlock()
		conn.Close()
	}()

	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:      livekit.JobType_JT_ROOM,
			AgentName: w.opts.AgentName,
			Version:   agentVersion,
		},
	}}); err != nil {
		return err
	}

	msgs := make(chan *livekit.ServerMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			msg := &livekit.ServerMessage{}
			if err := proto.Unmarshal(data, msg); err != nil {
				w.log.Warn("undecodable server message", zap.Error(err))
				continue
			}
			select {
			case msgs <- msg:
			case <-stop:
				return
			}
		}
	}()

	ticker := time.NewTicker(w.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			w.writeMu.Unlock()
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Ping{
				Ping: &livekit.WorkerPing{Timestamp: time.Now().UnixMilli()},
			}}); err != nil {
				return err
			}
		case msg := <-msgs:
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		w.log.Info("worker registered", zap.String("worker_id", m.Register.GetWorkerId()))
	case *livekit.ServerMessage_Availability:
		w.accept(m.Availability.GetJob())
	case *livekit.ServerMessage_Assignment:
		w.assign(ctx, m.Assignment)
	case *livekit.ServerMessage_Termination:
		w.terminate(m.Termination.GetJobId())
	case *livekit.ServerMessage_Pong:
	default:
		w.log.Debug("ignoring server message", zap.String("type", fmt.Sprintf("%T", msg.Message)))
	}
}

func (w *Worker) accept(job *livekit.Job) {
	if job == nil {
		return
	}
	w.log.Info("accepting job", zap.String("job_id", job.GetId()), zap.String("room", job.GetRoom().GetName()))
	if err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{
		Availability: &livekit.AvailabilityResponse{
			JobId:               job.GetId(),
			Available:           true,
			ParticipantIdentity: "agent-" + job.GetId(),
			ParticipantName:     w.opts.AgentName,
		},
	}}); err != nil {
		w.log.Error("failed to accept job", zap.String("job_id", job.GetId()), zap.Error(err))
	}
}

func (w *Worker) assign(ctx context.Context, a *livekit.JobAssignment) {
	lkJob := a.GetJob()
	if lkJob == nil {
		return
	}
	cj := ParseJob(lkJob)
	log := w.log.With(zap.String("job_id", cj.JobID), zap.String("room", cj.RoomName))

	assignment := Assignment{URL: w.opts.URL, Token: a.GetToken()}
	if a.Url != nil && a.GetUrl() != "" {
		assignment.URL = a.GetUrl()
	}

	job, err := w.newJob(cj, assignment)
	if err != nil {
		log.Error("failed to build job", zap.Error(err))
		w.updateJob(cj.JobID, livekit.JobStatus_JS_FAILED, err.Error())
		return
	}

	w.mu.Lock()
	w.jobs[cj.JobID] = job
	w.mu.Unlock()
	w.updateJob(cj.JobID, livekit.JobStatus_JS_RUNNING, "")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		// jobs outlive the worker connection; they stop through Shutdown
		err := job.Run(context.WithoutCancel(ctx))

		w.mu.Lock()
		delete(w.jobs, cj.JobID)
		w.mu.Unlock()

		if err != nil {
			log.Error("job failed", zap.Error(err))
			w.updateJob(cj.JobID, livekit.JobStatus_JS_FAILED, err.Error())
			return
		}
		log.Info("job finished")
		w.updateJob(cj.JobID, livekit.JobStatus_JS_SUCCESS, "")
	}()
}

func (w *Worker) terminate(jobID string) {
	w.mu.Lock()
	job, ok := w.jobs[jobID]
	w.mu.Unlock()
	if !ok {
		w.log.Warn("termination for unknown job", zap.String("job_id", jobID))
		return
	}
	w.log.Info("job terminated by server", zap.String("job_id", jobID))
	go job.Shutdown("job terminated by server")
}

func (w *Worker) shutdownJobs(reason string) {
	w.mu.Lock()
	jobs := make([]Job, 0, len(w.jobs))
	for _, j := range w.jobs {
		jobs = append(jobs, j)
	}
	w.mu.Unlock()

	w.log.Info("stopping running jobs", zap.Int("count", len(jobs)))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			j.Shutdown(reason)
		}(j)
	}
	wg.Wait()
	w.wg.Wait()
}

func (w *Worker) updateJob(jobID string, status livekit.JobStatus, errMsg string) {
	err := w.send(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{JobId: jobID, Status: status, Error: errMsg},
	}})
	if err != nil {
		w.log.Warn("failed to report job status", zap.String("job_id", jobID), zap.Stringer("status", status), zap.Error(err))
	}
}

var errNotConnected = errors.New("worker not connected")

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return errNotConnected
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}
