package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AVVKavvk/livekit-caller/models"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"
)

func TestParseMetadata(t *testing.T) {
	cases := map[string]string{
		`{"phone_number": "+15551234567"}`: "+15551234567",
		`{"phone_number": " +1555 "}`:      "+1555",
		`{}`:                               "",
		``:                                 "",
		`not json`:                         "",
	}
	for in, want := range cases {
		if got := ParseMetadata("AJ_1", in); got != want {
			t.Fatalf("ParseMetadata(%q) = %q, want %q", in, got, want)
		}
	}

	job := ParseJob(&livekit.Job{Id: "AJ_2", Room: &livekit.Room{Name: "call-1555-ab"}, Metadata: `{"phone_number":"+1555"}`})
	if job.JobID != "AJ_2" || job.RoomName != "call-1555-ab" || job.PhoneNumber != "+1555" || !job.Outbound() {
		t.Fatalf("unexpected job %+v", job)
	}
}

type stubJob struct {
	stop   chan struct{}
	once   sync.Once
	reason chan string
}

func (j *stubJob) Run(context.Context) error {
	<-j.stop
	return nil
}

func (j *stubJob) Shutdown(reason string) {
	j.once.Do(func() {
		j.reason <- reason
		close(j.stop)
	})
}

type fakeServer struct {
	t        *testing.T
	received chan *livekit.WorkerMessage
	outgoing chan *livekit.ServerMessage
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{
		t:        t,
		received: make(chan *livekit.WorkerMessage, 16),
		outgoing: make(chan *livekit.ServerMessage, 16),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range fs.outgoing {
				data, _ := proto.Marshal(msg)
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := &livekit.WorkerMessage{}
			if err := proto.Unmarshal(data, msg); err != nil {
				continue
			}
			fs.received <- msg
		}
	}))
	return fs, srv
}

func (fs *fakeServer) next() *livekit.WorkerMessage {
	fs.t.Helper()
	select {
	case msg := <-fs.received:
		return msg
	case <-time.After(2 * time.Second):
		fs.t.Fatal("no message from worker")
		return nil
	}
}

func TestWorkerJobLifecycle(t *testing.T) {
	fs, srv := newFakeServer(t)
	defer srv.Close()

	job := &stubJob{stop: make(chan struct{}), reason: make(chan string, 1)}
	var mu sync.Mutex
	var gotJob models.CallJob
	var gotAssignment Assignment
	w := New(Options{
		URL:       srv.URL,
		APIKey:    "devkey",
		APISecret: "devsecret-devsecret-devsecret-devsecret",
		AgentName: "outbound-caller",
	}, func(cj models.CallJob, a Assignment) (Job, error) {
		mu.Lock()
		gotJob, gotAssignment = cj, a
		mu.Unlock()
		return job, nil
	})
	w.ping = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	reg := fs.next().GetRegister()
	if reg == nil || reg.AgentName != "outbound-caller" || reg.Type != livekit.JobType_JT_ROOM {
		t.Fatalf("expected register request, got %+v", reg)
	}

	lkJob := &livekit.Job{Id: "AJ_1", Room: &livekit.Room{Name: "call-1555-ab"}, Metadata: `{"phone_number":"+1555"}`}
	fs.outgoing <- &livekit.ServerMessage{Message: &livekit.ServerMessage_Register{Register: &livekit.RegisterWorkerResponse{WorkerId: "W_1"}}}
	fs.outgoing <- &livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{Availability: &livekit.AvailabilityRequest{Job: lkJob}}}

	avail := fs.next().GetAvailability()
	if avail == nil || avail.JobId != "AJ_1" || !avail.Available {
		t.Fatalf("expected job accepted, got %+v", avail)
	}

	fs.outgoing <- &livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{Assignment: &livekit.JobAssignment{Job: lkJob, Token: "room-token"}}}
	running := fs.next().GetUpdateJob()
	if running == nil || running.Status != livekit.JobStatus_JS_RUNNING {
		t.Fatalf("expected running status, got %+v", running)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotJob.PhoneNumber != "+1555" || gotJob.RoomName != "call-1555-ab" {
		t.Fatalf("unexpected job %+v", gotJob)
	}
	if gotAssignment.Token != "room-token" || gotAssignment.URL != srv.URL {
		t.Fatalf("unexpected assignment %+v", gotAssignment)
	}

	fs.outgoing <- &livekit.ServerMessage{Message: &livekit.ServerMessage_Termination{Termination: &livekit.JobTermination{JobId: "AJ_1"}}}
	select {
	case reason := <-job.reason:
		if !strings.Contains(reason, "terminated") {
			t.Fatalf("unexpected shutdown reason %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job not shut down")
	}
	success := fs.next().GetUpdateJob()
	if success == nil || success.Status != livekit.JobStatus_JS_SUCCESS {
		t.Fatalf("expected success status, got %+v", success)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	close(fs.outgoing)
}

func TestShutdownStopsRunningJobs(t *testing.T) {
	fs, srv := newFakeServer(t)
	defer srv.Close()

	job := &stubJob{stop: make(chan struct{}), reason: make(chan string, 1)}
	w := New(Options{URL: srv.URL, APIKey: "k", APISecret: "devsecret-devsecret-devsecret-devsecret", AgentName: "a"},
		func(models.CallJob, Assignment) (Job, error) { return job, nil })
	w.ping = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	fs.next()

	fs.outgoing <- &livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{Assignment: &livekit.JobAssignment{
		Job: &livekit.Job{Id: "AJ_9", Room: &livekit.Room{Name: "web"}},
	}}}
	fs.next()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	select {
	case reason := <-job.reason:
		if reason != "worker shutting down" {
			t.Fatalf("unexpected reason %q", reason)
		}
	default:
		t.Fatal("running job was not shut down")
	}
	close(fs.outgoing)
}

func TestAgentURL(t *testing.T) {
	cases := map[string]string{
		"https://demo.livekit.cloud": "wss://demo.livekit.cloud/agent",
		"wss://demo.livekit.cloud/":  "wss://demo.livekit.cloud/agent",
		"http://localhost:7880":      "ws://localhost:7880/agent",
	}
	for in, want := range cases {
		w := New(Options{URL: in}, nil)
		got, err := w.agentURL()
		if err != nil || got != want {
			t.Fatalf("agentURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}
