package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStream is an append-only JetStream stream. Consumers live elsewhere;
// this side only publishes.
type NATSStream struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// NATSStreamConfig configures a NATSStream instance.
type NATSStreamConfig struct {
	URL        string        // NATS server URL
	StreamName string        // JetStream stream name (e.g., "PRINT_JOBS")
	Subjects   []string      // Subject patterns (e.g., "print.jobs.>")
	MaxAge     time.Duration // How long to retain messages
	MaxMsgs    int64         // Maximum number of messages to retain (0 = unlimited)
	Duplicates time.Duration // Window for Nats-Msg-Id deduplication
}

// NewNATSStream connects and ensures the stream exists.
func NewNATSStream(cfg NATSStreamConfig) (*NATSStream, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamConfig := jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.Duplicates,
	}
	if cfg.MaxMsgs > 0 {
		streamConfig.MaxMsgs = cfg.MaxMsgs
	}

	stream, err := js.CreateOrUpdateStream(context.Background(), streamConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}

	return &NATSStream{
		conn:   conn,
		js:     js,
		stream: stream,
	}, nil
}

// Publish publishes a message to the stream.
func (s *NATSStream) Publish(ctx context.Context, topic string, msg []byte) error {
	_, err := s.PublishWithID(ctx, topic, msg, "")
	return err
}

// PublishWithID publishes a message using msgID for server-side deduplication
// and returns the stream sequence assigned to it.
func (s *NATSStream) PublishWithID(ctx context.Context, topic string, msg []byte, msgID string) (uint64, error) {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := s.js.Publish(ctx, topic, msg, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish to stream: %w", err)
	}
	return ack.Sequence, nil
}

// Close closes the NATS connection.
func (s *NATSStream) Close() error {
	s.conn.Close()
	return nil
}
