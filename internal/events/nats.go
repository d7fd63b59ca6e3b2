package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject prefix used by NATSSink.
const DefaultSubjectPrefix = "orca.tasks"

// Publisher is the part of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON on "<prefix>.<taskID>.<type>".
type NATSSink struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSSink wraps an existing publisher.
func NewNATSSink(pub Publisher, prefix string, logger *zap.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger.Named("events")}
}

// ConnectNATS dials url and returns a sink and the connection to close.
func ConnectNATS(url, prefix string, logger *zap.Logger) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("orca"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSSink(nc, prefix, logger), nc, nil
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	task := e.TaskID
	if task == "" {
		task = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s", s.prefix, task, e.Type)
}

// Emit publishes the event. Failures are logged and dropped.
func (s *NATSSink) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("marshal event", zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(e), data); err != nil {
		s.logger.Warn("publish event",
			zap.String("subject", s.Subject(e)),
			zap.Error(err))
	}
}
