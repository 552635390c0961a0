package mirror

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/pkg/log"
	"github.com/edunderwood/transcript-translate-server/pkg/pubsub"
)

// Config controls the Redis live-state mirror.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Prefix    string        `mapstructure:"prefix"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
	QueueSize int           `mapstructure:"queue_size"`
}

type transition struct {
	domain.Transition
	at time.Time
}

// Mirror copies registry transitions into Redis so other processes can see
// which services are live, and announces them on the event bus.
type Mirror struct {
	client    *redis.Client
	publisher pubsub.Publisher
	prefix    string
	statusTTL time.Duration
	queue     chan transition
	now       func() time.Time

	// applied holds the last Seq written per service. Only the Run goroutine
	// touches it.
	applied map[string]uint64
}

// New creates a mirror. publisher may be nil.
func New(client *redis.Client, publisher pubsub.Publisher, cfg Config) *Mirror {
	if cfg.Prefix == "" {
		cfg.Prefix = "caption"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Mirror{
		client:    client,
		publisher: publisher,
		prefix:    cfg.Prefix,
		statusTTL: cfg.StatusTTL,
		queue:     make(chan transition, cfg.QueueSize),
		now:       time.Now,
		applied:   make(map[string]uint64),
	}
}

func (m *Mirror) liveKey() string {
	return m.prefix + ":live_services"
}

func (m *Mirror) statusKey(serviceID string) string {
	return fmt.Sprintf("%s:service:%s:status", m.prefix, serviceID)
}

// Observe queues a transition. It matches registry.TransitionFunc and never
// blocks the caller.
func (m *Mirror) Observe(t domain.Transition) {
	select {
	case m.queue <- transition{Transition: t, at: m.now()}:
	default:
		l := log.L()
		l.Warn().Str(log.FieldServiceID, t.ServiceID).Msg("mirror queue full, transition dropped")
	}
}

// Reset clears the live set left behind by a previous process.
func (m *Mirror) Reset(ctx context.Context) error {
	if err := m.client.Del(ctx, m.liveKey()).Err(); err != nil {
		return fmt.Errorf("failed to reset live services: %w", err)
	}
	return nil
}

// Run applies queued transitions until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	l := log.L()
	l.Info().Str("prefix", m.prefix).Msg("live-state mirror started")
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return nil
		case t := <-m.queue:
			if err := m.apply(ctx, t); err != nil {
				l.Error().Err(err).Str(log.FieldServiceID, t.ServiceID).Msg("mirror transition failed")
			}
		}
	}
}

// drain flushes what is already queued using a short deadline.
func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case t := <-m.queue:
			if err := m.apply(ctx, t); err != nil {
				return
			}
		default:
			return
		}
	}
}

// apply writes t unless a later transition of the same service was already
// written.
func (m *Mirror) apply(ctx context.Context, t transition) error {
	if t.Seq != 0 && t.Seq <= m.applied[t.ServiceID] {
		l := log.L()
		l.Debug().Str(log.FieldServiceID, t.ServiceID).Uint64("seq", t.Seq).Msg("stale transition skipped")
		return nil
	}

	key := m.statusKey(t.ServiceID)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"live_state", t.To.String(),
			"previous_state", t.From.String(),
			"changed_at", t.at.UTC().Format(time.RFC3339Nano),
			"seq", t.Seq,
		)
		if m.statusTTL > 0 {
			pipe.Expire(ctx, key, m.statusTTL)
		}
		if t.To.IsLive() {
			pipe.SAdd(ctx, m.liveKey(), t.ServiceID)
		} else {
			pipe.SRem(ctx, m.liveKey(), t.ServiceID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write live state: %w", err)
	}
	m.applied[t.ServiceID] = t.Seq

	if m.publisher == nil {
		return nil
	}
	ev, err := pubsub.NewEvent(pubsub.EventServiceTransition, t.ServiceID, pubsub.TransitionPayload{
		ServiceID: t.ServiceID,
		From:      t.From.String(),
		To:        t.To.String(),
		Seq:       t.Seq,
		ChangedAt: t.at,
	})
	if err != nil {
		return err
	}
	if err := m.publisher.Publish(ctx, pubsub.LivenessChannel(t.ServiceID), ev); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	return nil
}

// LiveServices returns the mirrored live set.
func (m *Mirror) LiveServices(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, m.liveKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read live services: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
