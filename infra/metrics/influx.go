package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/raftaar/ambudispatch/core/metrics"
	"github.com/raftaar/ambudispatch/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg coremetrics.Config) *InfluxSink {
	base := strings.TrimSuffix(cfg.InfluxURL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg coremetrics.Config) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordCallOutcome writes the entry resolution as a point.
func (s *InfluxSink) RecordCallOutcome(ev coremetrics.CallOutcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("queue_entry_outcome").
		AddTag("booking_id", ev.BookingID).
		AddTag("driver_id", ev.DriverID).
		AddTag("status", string(ev.Status)).
		AddTag("source", ev.Source).
		AddField("position", ev.Position).
		AddField("verdict", ev.Verdict).
		AddField("wait_seconds", ev.WaitSeconds).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAssignment writes the terminal assignment as a point.
func (s *InfluxSink) RecordAssignment(ev coremetrics.Assignment) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("booking_assignment").
		AddTag("booking_id", ev.BookingID).
		AddTag("driver_id", ev.DriverID).
		AddField("distance_km", ev.DistanceKM).
		AddField("attempts", ev.Attempts).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }
