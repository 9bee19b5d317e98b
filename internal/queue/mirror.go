// Package queue mirrors the in-process event bus onto NATS JetStream so
// external consumers (alerting, analytics) can subscribe without a
// connection to this process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/nvr/internal/eventbus"
)

const (
	EventsStreamName  = "NVR_EVENTS"
	EventsSubjectBase = "nvr.events"

	mirrorSubscriberID = "nats-mirror"
)

type Mirror struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewMirror(natsURL string) (*Mirror, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Mirror{nc: nc, js: js}, nil
}

// EnsureStream creates the events stream if it doesn't exist. Retries up
// to 30 times (1s apart) to handle NATS startup delay.
func (m *Mirror) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        EventsStreamName,
		Subjects:    []string{EventsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Detection, activity, session, and camera health events",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := m.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// Run subscribes to the bus and republishes every event until ctx is
// cancelled. Publish failures are logged and the event skipped; the
// in-process consumers are unaffected.
func (m *Mirror) Run(ctx context.Context, bus *eventbus.Bus) error {
	sub, err := bus.Subscribe(mirrorSubscriberID, 1024)
	if err != nil {
		return fmt.Errorf("subscribe mirror: %w", err)
	}
	defer bus.Unsubscribe(mirrorSubscriberID)

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("marshal event for mirror", "seq", ev.Seq, "error", err)
			continue
		}

		subject := fmt.Sprintf("%s.%s", EventsSubjectBase, ev.Type)
		if ev.CameraID != uuid.Nil {
			subject = fmt.Sprintf("%s.%s", subject, ev.CameraID)
		}

		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err = m.js.Publish(pubCtx, subject, payload)
		cancel()
		if err != nil {
			slog.Warn("mirror publish failed, event skipped",
				"subject", subject, "seq", ev.Seq, "error", err)
		}
	}
}

func (m *Mirror) Close() {
	m.nc.Close()
}
