// Package report forwards firing reports from the event bus to an AMQP
// queue so downstream systems can audit deliveries.
package report

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"mailbot/internal/eventbus"
	logx "mailbot/pkg/logx"
)

const DefaultQueue = "mailbot.firings"

type Config struct {
	URL   string
	Queue string
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.URL) != "" }

type Publisher interface {
	PublishJSON(ctx context.Context, body []byte) error
	Close() error
}

// Sink consumes events of the given types and publishes each one as JSON.
// A failed publish drops the connection; the next event redials.
type Sink struct {
	cfg   Config
	bus   eventbus.Bus
	types []string
	log   logx.Logger

	dial func(url, queue string) (Publisher, error)
	pub  Publisher

	publishTimeout time.Duration
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger, types ...string) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = DefaultQueue
	}
	return &Sink{cfg: cfg, bus: bus, types: types, log: log, dial: dialAMQP, publishTimeout: 5 * time.Second}
}

// Run blocks until ctx is done. Run it under a supervisor.
func (s *Sink) Run(ctx context.Context) error {
	events, unsub := s.bus.Subscribe(64, s.types...)
	defer unsub()
	defer s.disconnect()

	s.log.Info("report sink started", logx.String("queue", s.cfg.Queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Sink) handle(ctx context.Context, e eventbus.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("report encode failed", logx.String("type", e.Type), logx.Err(err))
		return
	}
	if s.pub == nil {
		pub, err := s.dial(s.cfg.URL, s.cfg.Queue)
		if err != nil {
			s.log.Warn("report broker unavailable; event dropped", logx.String("type", e.Type), logx.Err(err))
			return
		}
		s.pub = pub
	}

	pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	err = s.pub.PublishJSON(pctx, body)
	cancel()
	if err != nil {
		s.log.Warn("report publish failed; event dropped", logx.String("type", e.Type), logx.Err(err))
		s.disconnect()
		return
	}
	s.log.Debug("report published", logx.String("type", e.Type), logx.Int("bytes", len(body)))
}

func (s *Sink) disconnect() {
	if s.pub != nil {
		_ = s.pub.Close()
		s.pub = nil
	}
}
