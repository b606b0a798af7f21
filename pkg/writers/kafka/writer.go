package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stacktrends/config"
	"stacktrends/pkg/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer publishes every row of a table as a JSON message on the table's
// topic. Consumers rebuild the table from the messages of one run.
type Writer struct {
	writer      messageWriter
	topicPrefix string
	batchSize   int
	logger      *zap.Logger
}

func New(brokers []string, topicPrefix string, logger *zap.Logger) *Writer {
	return &Writer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
		batchSize:   config.KafkaBatchSize,
		logger:      logger,
	}
}

func (w *Writer) Name() string { return "kafka" }

// Topic returns the topic a table is published on.
func (w *Writer) Topic(table string) string {
	return w.topicPrefix + "." + table
}

func (w *Writer) Write(ctx context.Context, table types.Table) error {
	topic := w.Topic(table.Name)

	batch := make([]kafka.Message, 0, w.batchSize)
	for i := range table.Rows {
		data, err := json.Marshal(table.Record(i))
		if err != nil {
			return errors.Wrapf(err, "failed to encode row %d of %s", i, table.Name)
		}
		batch = append(batch, kafka.Message{
			Topic: topic,
			Key:   []byte(strconv.Itoa(i)),
			Value: data,
		})
		if len(batch) >= w.batchSize {
			if err := w.send(ctx, topic, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return w.send(ctx, topic, batch)
}

func (w *Writer) send(ctx context.Context, topic string, batch []kafka.Message) error {
	if len(batch) == 0 {
		return nil
	}
	w.logger.Debug("writing messages to kafka", zap.String("topic", topic), zap.Int("messages", len(batch)))
	if err := w.writer.WriteMessages(ctx, batch...); err != nil {
		return errors.Wrapf(err, "failed to write to topic %s", topic)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
