// Command modbus_bridge exposes a local modbus RTU bus over HTTP so that the angle
// sensor can be read from another host.
package main

import (
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gorilla/mux"
	"github.com/w1xm/mount_control/internal/modbus/modbushttp"
	"go.uber.org/zap"
)

var (
	addr     = flag.String("addr", "127.0.0.1:8502", "address to listen on")
	password = flag.String("password", "", "password to require on remote connections")
	port     = flag.String("serial", "", "sensor serial port name")
	baud     = flag.Int("baud", 4800, "sensor baud rate")
	debug    = flag.Bool("debug", false, "log at debug level")
)

func newHandler(port string, baud int, logger *zap.SugaredLogger) *modbus.RTUClientHandler {
	handler := modbus.NewRTUClientHandler(port)
	handler.BaudRate = baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = 1
	if l, err := zap.NewStdLogAt(logger.Desugar(), zap.DebugLevel); err == nil {
		handler.Logger = l
	}
	return handler
}

func main() {
	flag.Parse()
	cfg := zap.NewProductionConfig()
	if *debug {
		cfg.Level.SetLevel(zap.DebugLevel)
	}
	zl, err := cfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	handler := newHandler(*port, *baud, logger)
	if err := handler.Connect(); err != nil {
		logger.Fatalf("opening %q: %v", *port, err)
	}
	defer handler.Close()

	r := mux.NewRouter()
	r.Handle("/api/send", &modbushttp.Handler{Sender: handler, Password: *password, Logger: logger}).Methods(http.MethodPost)
	r.PathPrefix("/debug").Handler(http.DefaultServeMux)
	srv := &http.Server{
		Handler:      r,
		Addr:         *addr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	logger.Infof("Listening on %v", srv.Addr)
	logger.Fatal(srv.ListenAndServe())
}
