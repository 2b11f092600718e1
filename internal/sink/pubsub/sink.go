// Package pubsub publishes documents to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// Attribute keys set on every message.
const (
	AttrName        = "name"
	AttrContentType = "content_type"
	AttrRunID       = "run_id"
)

// Config names the project and topic.
type Config struct {
	ProjectID string
	Topic     string
	RunID     string
}

// Sink publishes each document as one message.
type Sink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	runID     string
}

// Open connects to Pub/Sub and prepares a publisher for cfg.Topic.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, eris.New("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create pubsub client")
	}
	return &Sink{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		runID:     cfg.RunID,
	}, nil
}

// Put publishes data and returns the server-assigned message id as a
// pubsub:// URI.
func (s *Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrName:        name,
			AttrContentType: contentType,
		},
	}
	if s.runID != "" {
		msg.Attributes[AttrRunID] = s.runID
	}
	id, err := s.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", eris.Wrapf(err, "publish %s", name)
	}
	return "pubsub://" + s.publisher.String() + "/" + id, nil
}

// Close flushes pending messages and closes the client.
func (s *Sink) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}
