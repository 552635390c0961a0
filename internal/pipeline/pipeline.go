package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

var (
	// ErrUnknownService is returned for transcripts of a service that never
	// registered or has no audience wiring.
	ErrUnknownService = errors.New("service is not wired")
	// ErrServiceOffline is returned for transcripts of an offline service.
	ErrServiceOffline = errors.New("service is offline")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("pipeline stopped")
)

// Registry exposes the liveness and language state the pipeline reads.
type Registry interface {
	Known(serviceID string) bool
	IsLive(serviceID string) bool
	Epoch(serviceID string) uint64
	ActiveLanguages(serviceID string) []string
}

// Publisher delivers events to sockets.
type Publisher interface {
	IsWired(serviceID string) bool
	Publish(serviceID, channel, event string, payload interface{}) (int, error)
	PublishToAll(serviceID, event string, payload interface{}) (int, error)
	PublishToAudience(serviceID string, audience domain.Audience, event string, payload interface{}) (int, error)
}

// Translator translates one transcript for one language.
type Translator interface {
	Translate(ctx context.Context, serviceID, text, lang string) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	// Timeout bounds a single translation request.
	Timeout time.Duration
	// LaneDepth is the number of pending translations a lane holds before
	// new ones are dropped.
	LaneDepth int
}

// Pipeline fans transcripts out to translations and publishes results in
// enqueue order per (service, language).
type Pipeline struct {
	registry   Registry
	publisher  Publisher
	translator Translator
	cfg        Config
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	services map[string]*scope
	stopped  bool
}

// scope holds the lanes of one service session. It is retired when the
// service goes offline.
type scope struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	lanes  map[string]*lane
}

type lane struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan *slot
}

type slot struct {
	epoch     uint64
	timestamp int64
	done      chan result
}

type result struct {
	text string
	err  error
}

// New creates a pipeline. Call Stop to release its goroutines.
func New(reg Registry, pub Publisher, tr Translator, cfg Config) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		registry:   reg,
		publisher:  pub,
		translator: tr,
		cfg:        cfg,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		services:   make(map[string]*scope),
	}
}

func (p *Pipeline) scope(serviceID string) (*scope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, false
	}
	s, ok := p.services[serviceID]
	if !ok {
		ctx, cancel := context.WithCancel(p.ctx)
		s = &scope{ctx: ctx, cancel: cancel, lanes: make(map[string]*lane)}
		p.services[serviceID] = s
	}
	return s, true
}

// HandleTranscript mirrors a transcript to the service and queues one
// translation per active language.
func (p *Pipeline) HandleTranscript(ctx context.Context, serviceID, transcript string) error {
	l := pkglog.ForService(ctx, serviceID)

	if !p.registry.Known(serviceID) || !p.publisher.IsWired(serviceID) {
		l.Debug().Msg("transcript for unwired service ignored")
		return ErrUnknownService
	}
	if !p.registry.IsLive(serviceID) {
		l.Debug().Msg("transcript for offline service ignored")
		return ErrServiceOffline
	}

	epoch := p.registry.Epoch(serviceID)
	ts := p.now().UnixMilli()

	if _, err := p.publisher.PublishToAll(serviceID, domain.EventNewTranscript, domain.NewTranscriptPayload{
		Transcript: transcript,
		Timestamp:  ts,
	}); err != nil {
		l.Error().Err(err).Msg("mirror transcript failed")
	}

	s, ok := p.scope(serviceID)
	if !ok {
		return ErrStopped
	}

	langs := p.registry.ActiveLanguages(serviceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil || p.registry.Epoch(serviceID) != epoch {
		l.Debug().Msg("service went offline while the transcript was queued")
		return ErrServiceOffline
	}
	p.pruneLocked(s, langs)

	for _, lang := range langs {
		ln := p.laneLocked(serviceID, lang, s)
		if ln == nil {
			return ErrStopped
		}
		sl := &slot{epoch: epoch, timestamp: ts, done: make(chan result, 1)}
		select {
		case ln.slots <- sl:
		default:
			l.Warn().Str(pkglog.FieldLanguage, lang).Msg("translation lane full, dropping transcript")
			continue
		}
		go p.translate(ln.ctx, serviceID, transcript, lang, sl)
	}
	return nil
}

// pruneLocked stops the lanes of languages that are no longer active. Their
// rooms are empty, so pending results have no audience.
func (p *Pipeline) pruneLocked(s *scope, active []string) {
	keep := make(map[string]struct{}, len(active))
	for _, lang := range active {
		keep[lang] = struct{}{}
	}
	for lang, ln := range s.lanes {
		if _, ok := keep[lang]; !ok {
			ln.cancel()
			delete(s.lanes, lang)
		}
	}
}

func (p *Pipeline) laneLocked(serviceID, lang string, s *scope) *lane {
	ln, ok := s.lanes[lang]
	if ok {
		return ln
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	ln = &lane{ctx: ctx, cancel: cancel, slots: make(chan *slot, p.cfg.LaneDepth)}
	s.lanes[lang] = ln
	go p.drain(serviceID, lang, ln)
	return ln
}

func (p *Pipeline) translate(ctx context.Context, serviceID, text, lang string, sl *slot) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	out, err := p.translator.Translate(ctx, serviceID, text, lang)
	sl.done <- result{text: out, err: err}
}

// drain publishes the lane's results in enqueue order until the lane is
// stopped.
func (p *Pipeline) drain(serviceID, lang string, ln *lane) {
	defer p.wg.Done()
	for {
		select {
		case <-ln.ctx.Done():
			return
		case sl := <-ln.slots:
			select {
			case res := <-sl.done:
				if ln.ctx.Err() != nil {
					return
				}
				p.deliver(serviceID, lang, sl, res)
			case <-ln.ctx.Done():
				return
			}
		}
	}
}

func (p *Pipeline) deliver(serviceID, lang string, sl *slot, res result) {
	l := pkglog.L().With().
		Str(pkglog.FieldServiceID, serviceID).
		Str(pkglog.FieldLanguage, lang).
		Logger()

	if p.registry.Epoch(serviceID) != sl.epoch || !p.registry.IsLive(serviceID) {
		l.Debug().Msg("discarding translation from a previous session")
		return
	}

	if res.err != nil {
		l.Warn().Err(res.err).Msg("translation failed")
		if _, err := p.publisher.PublishToAudience(serviceID, domain.AudienceControl, domain.EventTranslationError, domain.TranslationErrorPayload{
			Language: lang,
			Message:  res.err.Error(),
		}); err != nil {
			l.Error().Err(err).Msg("publish translation error failed")
		}
		return
	}

	if _, err := p.publisher.Publish(serviceID, lang, domain.EventTranslation, domain.TranslationPayload{
		ServiceID: serviceID,
		Language:  lang,
		Text:      res.text,
		Timestamp: sl.timestamp,
	}); err != nil {
		l.Error().Err(err).Msg("publish translation failed")
	}
}

// CancelService retires the session that ended at epoch: in-flight
// translations are aborted and the lane drainers exit. It is a no-op when the
// service has been live again since, so a late OFFLINE notification cannot
// cancel the new session's work.
func (p *Pipeline) CancelService(serviceID string, epoch uint64) {
	l := pkglog.L().With().Str(pkglog.FieldServiceID, serviceID).Logger()

	p.mu.Lock()
	if p.registry.Epoch(serviceID) != epoch || p.registry.IsLive(serviceID) {
		p.mu.Unlock()
		l.Debug().Uint64("epoch", epoch).Msg("stale offline notification ignored")
		return
	}
	s, ok := p.services[serviceID]
	delete(p.services, serviceID)
	p.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.cancel()
	s.lanes = make(map[string]*lane)
	s.mu.Unlock()

	l.Debug().Msg("in-flight translations cancelled")
}

// HandleTransition retires a service's lanes when it goes offline. It
// matches registry.TransitionFunc.
func (p *Pipeline) HandleTransition(t domain.Transition) {
	if t.To == domain.Offline {
		p.CancelService(t.ServiceID, t.Epoch)
	}
}

// Stop cancels all work and waits for the lane drainers to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
