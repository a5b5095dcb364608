// Package events publishes stored incidents to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/sells-group/wildfire-cli/internal/config"
	"github.com/sells-group/wildfire-cli/internal/model"
)

// Publisher announces incidents after they are stored.
type Publisher interface {
	Publish(ctx context.Context, incidents []model.Incident) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured, otherwise Noop.
func New(cfg config.KafkaConfig) Publisher {
	if len(cfg.Brokers) == 0 {
		return Noop{}
	}
	return NewKafka(cfg)
}

// Noop discards every incident.
type Noop struct{}

func (Noop) Publish(context.Context, []model.Incident) error { return nil }

func (Noop) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka produces one message per incident, keyed by incident identity.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a Kafka producer for the configured topic.
func NewKafka(cfg config.KafkaConfig) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Kafka{writer: w}
}

// Publish serializes and writes incidents in a single WriteMessages call.
func (k *Kafka) Publish(ctx context.Context, incidents []model.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(incidents))
	for i := range incidents {
		msg, err := toMessage(incidents[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return eris.Wrap(k.writer.WriteMessages(ctx, msgs...), "events: write messages")
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func toMessage(inc model.Incident) (kafkago.Message, error) {
	data, err := json.Marshal(inc)
	if err != nil {
		return kafkago.Message{}, eris.Wrapf(err, "events: serialize incident %s", inc.Identity)
	}
	return kafkago.Message{
		Key:   []byte(inc.Identity),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "center", Value: []byte(inc.CenterCode)},
			{Key: "status", Value: []byte(inc.Status)},
			{Key: "ingested_at", Value: []byte(inc.IngestedAt.Format(time.RFC3339))},
		},
	}, nil
}
