package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingConsumer struct {
	messages [][2]string
}

func (c *blockingConsumer) Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error {
	for _, m := range c.messages {
		if err := handler(ctx, []byte(m[0]), []byte(m[1])); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

type recordingForwarder struct {
	started atomic.Bool
}

func (f *recordingForwarder) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	f.started.Store(true)
	onMsg(realtime.Message{Topic: realtime.AnalyticsTopic, Event: realtime.EventAnalyticsUpdate})
	return nil
}

type countingJob struct {
	started, stopped atomic.Int32
}

func (j *countingJob) Start() error { j.started.Add(1); return nil }
func (j *countingJob) Stop()        { j.stopped.Add(1) }

func okHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func TestRunTrackAPI_ServesAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	var delivered atomic.Int32
	fwd := &recordingForwarder{}
	job := &countingJob{}

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(ctx, trackAPIOpts{
			httpAddr: "127.0.0.1:0",
			topic:    "t",
			group:    "g",
			onListen: func(addr string) { addrCh <- addr },
		}, trackAPIRuntime{
			handler:  okHandler(),
			consumer: &blockingConsumer{messages: [][2]string{{"k", `{"carrier":"ups"}`}}},
			onCarrierEvent: func(ctx context.Context, key, value []byte) error {
				handled.Add(1)
				return nil
			},
			forwarder: fwd,
			deliver:   func(m realtime.Message) { delivered.Add(1) },
			jobs:      []scheduledJob{job},
		})
	}()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ok")

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.True(t, fwd.started.Load())
	require.Equal(t, int32(1), delivered.Load())
	require.Equal(t, int32(1), job.started.Load())

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for track-api to stop")
	}
	assert.Equal(t, int32(1), job.stopped.Load())
}

type accountDirectory map[string]models.Account

func (d accountDirectory) GetAccount(_ context.Context, userID string) (models.Account, error) {
	acc, ok := d[userID]
	if !ok {
		return models.Account{}, apperr.NotFound("account", userID)
	}
	return acc, nil
}

func TestRunTrackAPI_OpenStreamDoesNotBlockShutdown(t *testing.T) {
	v := auth.NewVerifier("test-secret")
	hub := realtime.NewHub(v, accountDirectory{
		"alice": {ID: "alice", Role: auth.RoleCustomer, IsActive: true},
	}, nil)
	tok, err := v.Issue("alice", auth.RoleCustomer, time.Hour)
	require.NoError(t, err)

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := hub.Connect(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		hub.ServeHTTP(w, r, c)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(ctx, trackAPIOpts{
			httpAddr: "127.0.0.1:0",
			onListen: func(addr string) { addrCh <- addr },
		}, trackAPIRuntime{handler: stream})
	}()
	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/stream?token=" + tok)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: connected\n", line)
	require.Equal(t, 1, hub.ClientCount())

	started := time.Now()
	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(started), 2*time.Second)
	case <-time.After(4 * time.Second):
		t.Fatal("open stream held shutdown")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestRunTrackAPI_ConsumerFailureStopsServer(t *testing.T) {
	boom := errors.New("storage down")

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(context.Background(), trackAPIOpts{httpAddr: "127.0.0.1:0"}, trackAPIRuntime{
			handler:  okHandler(),
			consumer: &blockingConsumer{messages: [][2]string{{"k", "v"}}},
			onCarrierEvent: func(ctx context.Context, key, value []byte) error {
				return boom
			},
		})
	}()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, boom)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer failure did not stop the server")
	}
}

func TestRunTrackAPI_ListenError(t *testing.T) {
	err := runTrackAPI(context.Background(), trackAPIOpts{httpAddr: "256.0.0.1:bad"}, trackAPIRuntime{handler: okHandler()})
	require.Error(t, err)
}
