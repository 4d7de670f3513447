package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"printcast/pkg/config"
)

// drainTimeout bounds how long Close waits for pending messages.
const drainTimeout = 5 * time.Second

// NATSSubscriber enqueues envelopes published on a subject.
type NATSSubscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	intake *Intake
	closed chan struct{}
}

// ConnectNATS connects and subscribes. Messages with a reply subject
// receive an Ack.
func ConnectNATS(ctx context.Context, cfg config.NATSConfig, in *Intake) (*NATSSubscriber, error) {
	if cfg.URL == "" {
		return nil, errors.New("no NATS url configured")
	}
	if cfg.Subject == "" {
		return nil, errors.New("no NATS subject configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	closed := make(chan struct{})
	options := []nats.Option{
		nats.Name("printcast"),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
		nats.Timeout(time.Duration(cfg.ConnectTimeout)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS: reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	s := &NATSSubscriber{conn: conn, intake: in, closed: closed}
	sub, err := conn.Subscribe(cfg.Subject, s.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Subject, err)
	}
	s.sub = sub

	slog.Info("NATS ingress connected", "url", cfg.URL, "subject", cfg.Subject)
	return s, nil
}

func (s *NATSSubscriber) handle(msg *nats.Msg) {
	ack, err := s.intake.Submit("nats", msg.Data)
	if err != nil {
		slog.Warn("NATS: rejected envelope", "subject", msg.Subject, "error", err)
	} else {
		slog.Debug("NATS: queued collection", "id", ack.ID, "jobs", ack.Jobs)
	}
	if msg.Reply == "" {
		return
	}
	data, mErr := json.Marshal(ack)
	if mErr != nil {
		return
	}
	if rErr := msg.Respond(data); rErr != nil {
		slog.Warn("NATS: failed to send ack", "error", rErr)
	}
}

// Healthy reports whether the connection is up.
func (s *NATSSubscriber) Healthy() bool {
	return s != nil && s.conn != nil && s.conn.Status() == nats.CONNECTED
}

// Close drains the subscription, waits until in-flight messages have been
// handled and the connection is closed, or until the drain timeout passes.
func (s *NATSSubscriber) Close() {
	if s == nil || s.conn == nil {
		return
	}
	slog.Info("Closing NATS connection")
	if err := s.conn.Drain(); err != nil {
		slog.Warn("NATS: drain failed, closing", "error", err)
		s.conn.Close()
	}
	select {
	case <-s.closed:
	case <-time.After(drainTimeout + time.Second):
		slog.Warn("NATS: drain did not finish in time")
		s.conn.Close()
	}
}
