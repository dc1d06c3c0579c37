// Package kafka publishes point records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/rtm0/smap/internal/points"
)

// Writer produces one message per record, keyed by grid point so that a
// point's history stays in one partition.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter creates a producer for the topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Insert serializes and publishes the records in a single WriteMessages call.
func (w *Writer) Insert(ctx context.Context, vars []string, recs []points.Record) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(recs))
	for i := range recs {
		msg, err := serializeToMessage(vars, &recs[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		w.logger.Error("Could not publish records", "count", len(msgs), "err", err)
		return errors.Wrap(err, "publish records")
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// pointMessage is the JSON value of a message. Missing values are omitted.
type pointMessage struct {
	Time      time.Time          `json:"time"`
	GPI       int                `json:"gpi"`
	Latitude  float32            `json:"lat"`
	Longitude float32            `json:"lon"`
	Values    map[string]float64 `json:"values"`
}

// serializeToMessage marshals a record into a Kafka message.
func serializeToMessage(vars []string, r *points.Record) (kafkago.Message, error) {
	if len(vars) != len(r.Values) {
		return kafkago.Message{}, errors.Errorf("%d variables for %d values", len(vars), len(r.Values))
	}
	pm := pointMessage{
		Time:      time.UnixMilli(r.Timestamp).UTC(),
		GPI:       r.GPI,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Values:    make(map[string]float64, len(vars)),
	}
	for i, v := range vars {
		if !math.IsNaN(r.Values[i]) {
			pm.Values[v] = r.Values[i]
		}
	}
	data, err := json.Marshal(pm)
	if err != nil {
		return kafkago.Message{}, errors.Wrap(err, "serialize record")
	}
	return kafkago.Message{
		Key:   []byte(strconv.Itoa(r.GPI)),
		Value: data,
		Time:  pm.Time,
		Headers: []kafkago.Header{
			{Key: "day", Value: []byte(pm.Time.Format(time.DateOnly))},
		},
	}, nil
}
