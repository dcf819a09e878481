package notifier

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"planbot/internal/eventbus"
	kit "planbot/internal/transport"
	logx "planbot/pkg/logx"
)

var ErrNoSender = errors.New("notifier: no sender configured")

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	bus    eventbus.Bus
	log    logx.Logger

	sent     atomic.Uint64
	failed   atomic.Uint64
	attempts atomic.Uint64
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{sender: sender, bus: bus, log: log.With(logx.String("comp", "notifier"))}
	s.Apply(cfg)
	return s
}

// Apply swaps limits at runtime. In-flight sends keep their snapshot.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	s.mu.Lock()
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes pass without waiting.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// DeliverText sends HTML-formatted text to the owner's private chat.
func (s *Service) DeliverText(ctx context.Context, owner int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("notifier: empty text")
	}
	return s.deliver(ctx, owner, "text", func(ctx context.Context, sd kit.Sender) error {
		_, err := sd.SendText(ctx, kit.ChatTarget{ChatID: owner}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return err
	})
}

// DeliverAttachment re-sends previously uploaded media by its platform file id.
func (s *Service) DeliverAttachment(ctx context.Context, owner int64, mediaID, kind string) error {
	if mediaID == "" {
		return errors.New("notifier: empty media id")
	}
	return s.deliver(ctx, owner, kind, func(ctx context.Context, sd kit.Sender) error {
		_, err := sd.SendMedia(ctx, kit.ChatTarget{ChatID: owner}, kit.Media{FileID: mediaID, Kind: kind}, nil)
		return err
	})
}

func (s *Service) Snapshot() Snapshot {
	return Snapshot{Sent: s.sent.Load(), Failed: s.failed.Load(), Attempts: s.attempts.Load()}
}

func (s *Service) deliver(ctx context.Context, owner int64, kind string, send func(context.Context, kit.Sender) error) error {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sender == nil {
		return ErrNoSender
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		s.attempts.Add(1)
		lastErr = s.once(ctx, cfg.SendTimeout, send)
		if lastErr == nil {
			s.sent.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.DeliverySent, Data: DeliveryEvent{
				Owner: owner, Kind: kind, Attempts: attempt, At: time.Now(),
			}})
			return nil
		}
		s.log.Debug("send failed",
			logx.Int64("owner", owner),
			logx.String("kind", kind),
			logx.Int("attempt", attempt),
			logx.Err(lastErr),
		)
		if attempt == maxAttempts || errors.Is(lastErr, kit.ErrUndeliverable) || errors.Is(lastErr, kit.ErrUnsupportedMedia) {
			break
		}
		if !sleep(ctx, retryDelay(cfg, attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	s.failed.Add(1)
	s.bus.Publish(eventbus.Event{Type: eventbus.DeliveryFailed, Data: DeliveryEvent{
		Owner: owner, Kind: kind, Attempts: min(attempt, maxAttempts), At: time.Now(), Error: lastErr.Error(),
	}})
	return lastErr
}

func (s *Service) once(ctx context.Context, timeout time.Duration, send func(context.Context, kit.Sender) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return send(ctx, s.sender)
}

// retryDelay is exponential from RetryBase with up to 20% jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << (attempt - 1)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if j := int64(d) / 5; j > 0 {
		d += time.Duration(rand.Int63n(j + 1))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
