// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bodaay/formerhub/pkg/formers"
)

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	defer hub.Stop()

	// Broadcasting without clients must not block or panic.
	hub.Broadcast("test", map[string]string{"key": "value"})
	hub.BroadcastJob(Job{ID: "test123", Identifier: "gpt2", Status: JobStatusRunning})
	hub.BroadcastEvent("test123", formers.ProgressEvent{Event: "fetch_start"})

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients, got %d", count)
	}
}

func TestWSHub_FinalJobUpdateWaitsForRoom(t *testing.T) {
	hub := NewWSHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast("event", i)
	}
	// Progress is dropped on a full queue.
	hub.BroadcastJob(Job{ID: "j1", Status: JobStatusRunning})
	if n := len(hub.broadcast); n != cap(hub.broadcast) {
		t.Fatalf("Expected a full queue, got %d", n)
	}

	done := make(chan struct{})
	go func() {
		hub.BroadcastJob(Job{ID: "j1", Status: JobStatusCompleted})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Expected the final update to wait for room")
	case <-time.After(50 * time.Millisecond):
	}

	<-hub.broadcast
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Final update was not queued")
	}

	var last []byte
	for len(hub.broadcast) > 0 {
		last = <-hub.broadcast
	}
	var msg struct {
		Type string `json:"type"`
		Data Job    `json:"data"`
	}
	if err := json.Unmarshal(last, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != "job_update" || msg.Data.Status != JobStatusCompleted {
		t.Errorf("Expected the completed update last, got %+v", msg)
	}
}

func TestWSHub_FinalJobUpdateAfterStop(t *testing.T) {
	hub := NewWSHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast("event", i)
	}
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.BroadcastJob(Job{ID: "j1", Status: JobStatusFailed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastJob blocked on a stopped hub")
	}
}

func TestWSHub_StopIsIdempotent(t *testing.T) {
	hub := NewWSHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	hub.Stop()
	hub.Stop()
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return msg
}

func TestWebSocket_Updates(t *testing.T) {
	srv := newTestServer(t)
	go srv.wsHub.Run()
	defer srv.wsHub.Stop()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if msg := readWS(t, conn); msg.Type != "init" {
		t.Fatalf("Expected init first, got %s", msg.Type)
	}

	// Wait for registration before triggering broadcasts.
	deadline := time.Now().Add(2 * time.Second)
	for srv.wsHub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	job, _, err := srv.jobs.CreateJob("gpt2")
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	sawEvent := false
	for {
		msg := readWS(t, conn)
		switch msg.Type {
		case "event":
			sawEvent = true
		case "job_update":
			raw, _ := json.Marshal(msg.Data)
			var update Job
			json.Unmarshal(raw, &update)
			if update.ID != job.ID {
				t.Fatalf("Unexpected job %s", update.ID)
			}
			if update.Status == JobStatusCompleted {
				if !sawEvent {
					t.Error("Expected progress events before completion")
				}
				return
			}
		}
	}
}
