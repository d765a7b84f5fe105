package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/w1xm/mount_control/session"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func TestStatusPoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		st   session.Status
		want string
	}{
		{
			name: "running",
			st:   session.Status{SessionID: "abc", Mode: "simulation", Status: "running", CurrentAz: 10.5, CurrentAlt: 45, TargetAlt: 60},
			want: "mount.status,mode=simulation,session_id=abc,status=running current_alt=45,current_az=10.5,target_alt=60,target_az=0 1700000000\n",
		},
		{
			name: "failed",
			st:   session.Status{SessionID: "abc", Mode: "real", Status: "failed", Error: "no attitude source"},
			want: `mount.status,mode=real,session_id=abc,status=failed current_alt=0,current_az=0,error="no attitude source",target_alt=0,target_az=0 1700000000` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := write.PointToLineProtocol(statusPoint(tt.st, ts), time.Second)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestLogData(t *testing.T) {
	statuses := []session.Status{
		{Mode: "simulation", Status: "ready"},
		{SessionID: "abc", Mode: "simulation", Status: "running", CurrentAlt: 90},
		{SessionID: "abc", Mode: "simulation", Status: "arrived", CurrentAlt: 60},
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		for _, st := range statuses {
			if err := conn.WriteJSON(st); err != nil {
				t.Error(err)
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	w := &fakeWriter{}
	err := logData(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), w, zaptest.NewLogger(t).Sugar())
	if err == nil {
		t.Error("logData returned nil after the stream closed")
	}
	var got []string
	for _, p := range w.points {
		for _, tag := range p.TagList() {
			if tag.Key == "status" {
				got = append(got, tag.Value)
			}
		}
	}
	if diff := cmp.Diff([]string{"running", "arrived"}, got); diff != "" {
		t.Errorf("statuses got(-)/want(+):\n%s", diff)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
}

func TestLogDataCanceled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- logData(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &fakeWriter{}, zaptest.NewLogger(t).Sugar())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("logData = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("logData ignored cancellation")
	}
}
