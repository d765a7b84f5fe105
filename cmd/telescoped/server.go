package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/w1xm/mount_control/controller"
	"github.com/w1xm/mount_control/internal/config"
	"github.com/w1xm/mount_control/rotator"
	"github.com/w1xm/mount_control/session"
	"go.uber.org/zap"
)

type Server struct {
	manager  *session.Manager
	observer config.ObserverConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewServer(manager *session.Manager, logger *zap.SugaredLogger) *Server {
	return &Server{
		manager:  manager,
		observer: manager.Config.Observer,
		logger:   logger,
		now:      time.Now,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Router serves the operator API. staticDir may be empty.
func (s *Server) Router(staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/start", s.StartHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.StopHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/offsets", s.OffsetsHandler).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	r.Handle("/metrics", promhttp.Handler())
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Errorf("encoding response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.Board().Latest())
}

type Response struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func formFloat(r *http.Request, key string) (float64, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, fmt.Errorf("%w: missing %s", controller.ErrInvalidArgument, key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", controller.ErrInvalidArgument, key, err)
	}
	return f, nil
}

// formFloatDefault is formFloat with a fallback for an absent field.
func formFloatDefault(r *http.Request, key string, def float64) (float64, error) {
	if r.FormValue(key) == "" {
		return def, nil
	}
	return formFloat(r, key)
}

// parseStartRequest reads the start form. A horizontal request without az and alt
// slews to the configured target; equatorial requests default to the configured site.
func (s *Server) parseStartRequest(r *http.Request) (session.StartRequest, error) {
	req := session.StartRequest{
		Mode: s.manager.Config.Controller.Mode,
		Port: r.FormValue("port"),
	}
	if m := r.FormValue("mode"); m != "" {
		mode, err := controller.ParseMode(m)
		if err != nil {
			return req, err
		}
		req.Mode = mode
	}
	switch ct := r.FormValue("coordinate_type"); ct {
	case "", "horizontal":
		if r.FormValue("az") == "" && r.FormValue("alt") == "" {
			return req, nil
		}
		az, err := formFloat(r, "az")
		if err != nil {
			return req, err
		}
		alt, err := formFloat(r, "alt")
		if err != nil {
			return req, err
		}
		req.Target.Horizontal = &rotator.Orientation{Azimuth: az, Altitude: alt}
	case "equatorial":
		eq := rotator.Equatorial{Time: s.now()}
		var err error
		if eq.RightAscension, err = formFloat(r, "ra"); err != nil {
			return req, err
		}
		if eq.Declination, err = formFloat(r, "dec"); err != nil {
			return req, err
		}
		if eq.Latitude, err = formFloatDefault(r, "lat", s.observer.Latitude); err != nil {
			return req, err
		}
		if eq.Longitude, err = formFloatDefault(r, "lon", s.observer.Longitude); err != nil {
			return req, err
		}
		req.Target.Equatorial = &eq
	default:
		return req, fmt.Errorf("%w: unknown coordinate_type %q", controller.ErrInvalidArgument, ct)
	}
	return req, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, controller.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, controller.ErrConnection):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) StartHandler(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseStartRequest(r)
	if err == nil {
		var sess *session.Session
		sess, err = s.manager.Start(r.Context(), req)
		if err == nil {
			s.logger.Infof("%v started session %s in %v mode", r.RemoteAddr, sess.ID(), sess.Controller().Mode())
			s.writeJSON(w, http.StatusOK, Response{Success: true, Message: "started", SessionID: sess.ID()})
			return
		}
	}
	s.logger.Warnf("start from %v: %v", r.RemoteAddr, err)
	s.writeJSON(w, errorStatus(err), Response{Message: err.Error()})
}

func (s *Server) running() *session.Session {
	sess := s.manager.Current()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.Done():
		return nil
	default:
		return sess
	}
}

func (s *Server) StopHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.running()
	if sess == nil {
		s.writeJSON(w, http.StatusConflict, Response{Message: "not running"})
		return
	}
	if err := sess.Stop(); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, Response{Message: err.Error(), SessionID: sess.ID()})
		return
	}
	s.logger.Infof("%v stopped session %s", r.RemoteAddr, sess.ID())
	s.writeJSON(w, http.StatusOK, Response{Success: true, Message: "stopped", SessionID: sess.ID()})
}

// Offsets are the sensor mounting offsets in degrees.
type Offsets struct {
	Azimuth  float64 `json:"azimuth_offset"`
	Altitude float64 `json:"altitude_offset"`
}

// OffsetsHandler reports the sensor offsets, and on POST first replaces those given
// in the az and alt form fields.
func (s *Server) OffsetsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		az, alt := s.manager.Offsets()
		az, err := formFloatDefault(r, "az", az)
		if err == nil {
			alt, err = formFloatDefault(r, "alt", alt)
		}
		if err == nil {
			err = s.manager.SetOffsets(az, alt)
		}
		if err != nil {
			s.writeJSON(w, errorStatus(err), Response{Message: err.Error()})
			return
		}
		s.logger.Infof("%v set offsets to (%.2f, %.2f)", r.RemoteAddr, az, alt)
	}
	az, alt := s.manager.Offsets()
	s.writeJSON(w, http.StatusOK, Offsets{Azimuth: az, Altitude: alt})
}

// SocketCommand is a message a websocket client may send.
type SocketCommand struct {
	Command string `json:"command"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("upgrading %v: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg SocketCommand
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Command {
			case "stop":
				if err := s.manager.Stop(); err != nil {
					s.logger.Errorf("stop from %v: %v", r.RemoteAddr, err)
				}
			default:
				s.logger.Debugf("ignoring websocket command %q", msg.Command)
			}
		}
	}()

	board := s.manager.Board()
	status := board.Latest()
	for {
		data, err := json.Marshal(status)
		if err != nil {
			s.logger.Errorf("encoding status: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debugf("writing to %v: %v", r.RemoteAddr, err)
			return
		}
		if status, err = board.Next(ctx, status.Seq); err != nil {
			return
		}
	}
}
