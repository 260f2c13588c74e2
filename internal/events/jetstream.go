package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// JetStreamOptions describe the optional event mirror in NATS JetStream.
// Mirrored events let external consumers (audit, notification fan-out)
// observe session activity without holding an SSE connection; the serving
// path never reads them back.
type JetStreamOptions struct {
	URL               string `yaml:"url"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	SubjectPrefix     string `yaml:"subjectPrefix"`
	Stream            string `yaml:"stream"`
	MaxBytes          int64  `yaml:"maxBytes"`
	DupeWindowSeconds int    `yaml:"dupeWindowSeconds"`
}

func (o *JetStreamOptions) setDefaults() {
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "vibedeck"
	}
	if o.Stream == "" {
		o.Stream = "vibedeck_events"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 1 * 1024 * 1024 * 1024 // 1GB
	}
	if o.DupeWindowSeconds == 0 {
		o.DupeWindowSeconds = 120
	}
}

// JetStreamMirror publishes every bus event to a JetStream subject,
// `{prefix}.session.{kind}`. Publish failures are logged and dropped; the
// mirror must never stall the SSE path.
type JetStreamMirror struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   *JetStreamOptions
	logger *slog.Logger
}

// NewJetStreamMirror connects and makes sure the stream exists.
func NewJetStreamMirror(opts *JetStreamOptions, logger *slog.Logger) (*JetStreamMirror, error) {
	cfg := *opts
	cfg.setDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	natsOpts := []nats.Option{nats.Name("vibedeck-event-mirror")}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := &JetStreamMirror{conn: conn, js: js, opts: &cfg, logger: logger}
	if err := m.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *JetStreamMirror) Close() {
	if m.conn != nil {
		m.conn.Drain()
		m.conn.Close()
	}
}

func (m *JetStreamMirror) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       m.opts.Stream,
		Subjects:   []string{fmt.Sprintf("%s.session.*", m.opts.SubjectPrefix)},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: time.Duration(m.opts.DupeWindowSeconds) * time.Second,
	}
	if _, err := m.js.StreamInfo(cfg.Name); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := m.js.AddStream(cfg)
			return addErr
		}
		return err
	}
	_, err := m.js.UpdateStream(cfg)
	return err
}

// Publish mirrors one event, asynchronously acknowledged.
func (m *JetStreamMirror) Publish(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		m.logger.Error("event mirror encode", "kind", evt.Kind, "err", err)
		return
	}
	subject := fmt.Sprintf("%s.session.%s", m.opts.SubjectPrefix, evt.Kind)
	if _, err := m.js.PublishAsync(subject, payload); err != nil {
		m.logger.Error("event mirror publish", "subject", subject, "err", err)
	}
}
