// Command telescope_logger records the mount status stream in InfluxDB.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/w1xm/mount_control/internal/config"
	"github.com/w1xm/mount_control/session"
	"go.uber.org/zap"
)

const measurement = "mount.status"

var (
	configPath = flag.String("config", "", "YAML config file")
	statusURL  = flag.String("status", "", "websocket URL of the status stream (overrides influx.status)")
	retry      = flag.Duration("retry", time.Second, "delay between reconnects")
)

// PointWriter is the subset of the influx write API used here.
type PointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

func main() {
	flag.Parse()
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	ic := cfg.Influx
	if *statusURL != "" {
		ic.Status = *statusURL
	}
	if ic.Status == "" {
		ic.Status = "ws://localhost" + cfg.HTTP.Addr + "/api/ws"
	}
	if ic.URL == "" {
		ic.URL = os.Getenv("INFLUX_SERVER")
	}
	if ic.URL == "" {
		ic.URL = "http://localhost:8086"
	}
	if ic.Token == "" {
		ic.Token = os.Getenv("INFLUX_TOKEN")
	}

	client := influxdb2.NewClient(ic.URL, ic.Token)
	defer client.Close()
	// Get non-blocking write client
	writeAPI := client.WriteAPI(ic.Org, ic.Bucket)
	defer writeAPI.Flush()
	go func() {
		for err := range writeAPI.Errors() {
			logger.Errorf("write error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		if err := logData(ctx, ic.Status, writeAPI, logger); err != nil {
			logger.Warnf("status stream %s: %v", ic.Status, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*retry):
		}
	}
}

func statusPoint(st session.Status, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"current_az":  st.CurrentAz,
		"current_alt": st.CurrentAlt,
		"target_az":   st.TargetAz,
		"target_alt":  st.TargetAlt,
	}
	if st.Error != "" {
		fields["error"] = st.Error
	}
	return influxdb2.NewPoint(measurement,
		map[string]string{
			"session_id": st.SessionID,
			"mode":       st.Mode,
			"status":     st.Status,
		},
		fields,
		ts,
	)
}

// logData copies the status stream at url into w until the stream fails or ctx is done.
func logData(ctx context.Context, url string, w PointWriter, logger *zap.SugaredLogger) error {
	defer w.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	logger.Infof("recording %s", url)
	for {
		var st session.Status
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if st.SessionID == "" {
			// No session has run yet.
			continue
		}
		// write asynchronously
		w.WritePoint(statusPoint(st, time.Now()))
	}
}
