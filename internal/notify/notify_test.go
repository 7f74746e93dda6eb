package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xpadev-net/watchlist-supervisor/internal/webhook"
)

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSubscriber struct {
	name   string
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Deliver(ctx context.Context, ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEventWireFormat(t *testing.T) {
	started, err := json.Marshal(StreamStarted("alice", "r1", "https://img.example/a.png", eventTime))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(started, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "stream.started" {
		t.Errorf("type = %v, want stream.started", got["type"])
	}
	data := got["data"].(map[string]any)
	if data["is_live"] != true || data["stream_id"] != "r1" || data["image_url"] != "https://img.example/a.png" {
		t.Errorf("data = %v", data)
	}
	if _, ok := data["full_video_url"]; ok {
		t.Error("full_video_url should be omitted when empty")
	}

	ended := StreamEnded("alice", "r1", "", "https://cdn.example/full.mp4", eventTime)
	if ended.Type != webhook.EventStreamEnded || ended.Data.IsLive {
		t.Errorf("ended event = %+v", ended)
	}
	if ended.Data.FullVideoURL != "https://cdn.example/full.mp4" {
		t.Errorf("FullVideoURL = %q", ended.Data.FullVideoURL)
	}
}

func TestBroadcasterFansOut(t *testing.T) {
	ok := &recordingSubscriber{name: "ok"}
	failing := &recordingSubscriber{name: "failing", err: errors.New("down")}
	b := NewBroadcaster(nil, ok, failing)

	b.Publish(StreamStarted("alice", "r1", "", eventTime))
	b.Publish(StreamEnded("alice", "r1", "", "", eventTime))
	b.Wait()

	if ok.count() != 2 {
		t.Errorf("ok subscriber got %d events, want 2", ok.count())
	}
	if failing.count() != 2 {
		t.Errorf("failing subscriber got %d events, want 2", failing.count())
	}
}

func TestBroadcasterPublishDoesNotBlock(t *testing.T) {
	slow := &recordingSubscriber{name: "slow", block: make(chan struct{})}
	b := NewBroadcaster(nil)
	b.Subscribe(slow)

	done := make(chan struct{})
	go func() {
		b.Publish(StreamStarted("alice", "r1", "", eventTime))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(slow.block)
	b.Wait()
	if slow.count() != 1 {
		t.Errorf("slow subscriber got %d events, want 1", slow.count())
	}
}

func TestHubDeliversToClients(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Deliver(context.Background(), StreamEnded("alice", "r1", "", "", eventTime)); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(message, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != webhook.EventStreamEnded || ev.Data.StreamID != "r1" {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebhookSubscriber(t *testing.T) {
	var hits int32
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := NewWebhookSubscriber(webhook.NewSender("key"), server.URL)
	if err := sub.Deliver(context.Background(), StreamStarted("alice", "r1", "", eventTime)); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if body := <-bodies; !strings.Contains(string(body), `"type":"stream.started"`) {
		t.Errorf("body = %s", body)
	}
}

func TestWebhookSubscriberInvalidURL(t *testing.T) {
	sub := NewWebhookSubscriber(webhook.NewSender("key"), "ftp://nowhere")
	if err := sub.Deliver(context.Background(), StreamStarted("alice", "r1", "", eventTime)); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestRedisSubscriberPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisClient returned error: %v", err)
	}
	defer client.Close()

	listener := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer listener.Close()
	pubsub := listener.Subscribe(ctx, "watchlist:notifications")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub := NewRedisSubscriber(client, "watchlist:notifications")
	if err := sub.Deliver(ctx, StreamEnded("alice", "r1", "", "", eventTime)); err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != webhook.EventStreamEnded || ev.Data.Username != "alice" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received on channel")
	}
}

func TestNewRedisClientErrors(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), ""); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := NewRedisClient(context.Background(), "://bad"); err == nil {
		t.Error("expected error for malformed url")
	}
}
