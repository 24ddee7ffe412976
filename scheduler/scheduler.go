package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kilnlsp/kiln"
)

// foregroundWorkers is the pool size shared by typing and interactive
// work. Background work runs on its own single worker so a long
// workspace walk can never occupy every slot.
const foregroundWorkers = 4

// RunFunc executes one admitted request. It must poll tok at
// checkpoints and unwind promptly once cancelled.
type RunFunc func(ctx context.Context, tok *Token, queueWait time.Duration) (*kiln.QueryResponse, error)

// Handle is the caller's side of one submitted request.
type Handle struct {
	requestID string

	once sync.Once
	done chan struct{}
	resp *kiln.QueryResponse
	err  error
}

// RequestID returns the request's correlation id.
func (h *Handle) RequestID() string { return h.requestID }

// Await blocks until the request settles or ctx expires.
func (h *Handle) Await(ctx context.Context) (*kiln.QueryResponse, error) {
	select {
	case <-h.done:
		return h.resp, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver settles the handle exactly once.
func (h *Handle) deliver(resp *kiln.QueryResponse, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		close(h.done)
	})
}

type item struct {
	req      kiln.Request
	class    kiln.RequestClass
	run      RunFunc
	tok      *Token
	handle   *Handle
	enqueued time.Time
}

type pending struct {
	it    *item
	timer *time.Timer
}

// Scheduler admits, coalesces, and executes requests.
type Scheduler struct {
	logger *zap.Logger
	cfg    kiln.SchedulerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	typingQ      chan *item
	interactiveQ chan *item
	backgroundQ  chan *item

	mu       sync.Mutex
	pendings map[string]*pending // stream -> debounced submission
	live     map[string]*Token   // stream -> newest admitted token (queued or executing)
	byID     map[string]*Token   // requestID -> token
	closed   bool
}

// New creates a scheduler and starts its workers.
func New(cfg kiln.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	depth := cfg.Depth()

	s := &Scheduler{
		logger:       logger,
		cfg:          cfg,
		ctx:          ctx,
		cancel:       cancel,
		typingQ:      make(chan *item, depth),
		interactiveQ: make(chan *item, depth),
		backgroundQ:  make(chan *item, depth),
		pendings:     make(map[string]*pending),
		live:         make(map[string]*Token),
		byID:         make(map[string]*Token),
	}

	for w := 0; w < foregroundWorkers; w++ {
		s.wg.Add(1)
		go s.foregroundWorker()
	}
	s.wg.Add(1)
	go s.backgroundWorker()

	return s
}

// Submit admits a request. Typing-class latest-mode requests on an
// active stream are debounced: successive submissions within the
// quiescence window coalesce into one execution that resolves against
// the newest snapshot only. Any submission supersedes (cancels) the
// stream's previous request first.
func (s *Scheduler) Submit(req kiln.Request, run RunFunc) (*Handle, error) {
	if !req.Feature.Valid() {
		return nil, fmt.Errorf("%w: unknown feature %q", kiln.ErrInvalidParams, req.Feature)
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", kiln.ErrInvalidParams)
	}

	class := req.Class
	if class == "" {
		class = kiln.ClassFor(req.Feature)
	}

	it := &item{
		req:    req,
		class:  class,
		run:    run,
		tok:    NewToken(),
		handle: &Handle{requestID: req.RequestID, done: make(chan struct{})},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil, fmt.Errorf("%w: scheduler closed", kiln.ErrEngineBusy)
	}
	if _, dup := s.byID[req.RequestID]; dup {
		s.mu.Unlock()

		return nil, fmt.Errorf("%w: duplicate requestId %q", kiln.ErrInvalidParams, req.RequestID)
	}

	stream := req.Stream()
	s.supersedeLocked(stream)
	s.byID[req.RequestID] = it.tok
	// Registered at admission, not at execution: a request superseded
	// while still sitting in its class queue must be cancelled too.
	s.live[stream] = it.tok

	if class == kiln.ClassTyping && req.Snapshot.Mode == kiln.SnapshotLatest {
		p := &pending{it: it}
		p.timer = time.AfterFunc(s.cfg.Debounce(), func() { s.fire(stream, p) })
		s.pendings[stream] = p
		s.mu.Unlock()

		return it.handle, nil
	}
	s.mu.Unlock()

	s.enqueue(it)

	return it.handle, nil
}

// supersedeLocked cancels the stream's previous request at whatever
// stage it is in: debounce-pending, queued, or executing.
func (s *Scheduler) supersedeLocked(stream string) {
	if p, ok := s.pendings[stream]; ok {
		delete(s.pendings, stream)
		p.timer.Stop()
		p.it.tok.Cancel(ReasonSuperseded)
		s.settleLocked(p.it, nil, p.it.tok.Err())
	}
	if tok, ok := s.live[stream]; ok {
		tok.Cancel(ReasonSuperseded)
	}
}

// fire moves a debounced submission to its queue once the quiescence
// window elapses.
func (s *Scheduler) fire(stream string, p *pending) {
	s.mu.Lock()
	if s.pendings[stream] == p {
		delete(s.pendings, stream)
	}
	s.mu.Unlock()

	if p.it.tok.Cancelled() {
		s.settle(p.it, nil, p.it.tok.Err())

		return
	}

	s.enqueue(p.it)
}

// enqueue places the item on its class queue, waiting at most the
// bounded admission budget before failing with ENGINE_BUSY.
func (s *Scheduler) enqueue(it *item) {
	it.enqueued = time.Now()

	var q chan *item
	switch it.class {
	case kiln.ClassTyping:
		q = s.typingQ
	case kiln.ClassInteractive:
		q = s.interactiveQ
	default:
		q = s.backgroundQ
	}

	select {
	case q <- it:
		return
	default:
	}

	wait := time.NewTimer(s.cfg.AdmitWait())
	defer wait.Stop()

	select {
	case q <- it:
	case <-wait.C:
		s.logger.Warn("admission saturated",
			zap.String("requestId", it.req.RequestID),
			zap.String("class", string(it.class)))
		s.settle(it, nil, fmt.Errorf("%w: %s queue saturated", kiln.ErrEngineBusy, it.class))
	case <-s.ctx.Done():
		s.settle(it, nil, fmt.Errorf("%w: scheduler closed", kiln.ErrEngineBusy))
	}
}

// foregroundWorker drains typing work first; interactive work runs when
// no typing work is queued.
func (s *Scheduler) foregroundWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-s.typingQ:
			s.exec(it)
			continue
		default:
		}

		select {
		case <-s.ctx.Done():
			return
		case it := <-s.typingQ:
			s.exec(it)
		case it := <-s.interactiveQ:
			s.exec(it)
		}
	}
}

// backgroundWorker executes background slices on a dedicated worker so
// indexing can never starve typing or interactive requests.
func (s *Scheduler) backgroundWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case it := <-s.backgroundQ:
			s.exec(it)
		}
	}
}

func (s *Scheduler) exec(it *item) {
	if err := it.tok.Err(); err != nil {
		s.settle(it, nil, err)

		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	stop := watchToken(ctx, it.tok, cancel)
	defer stop()

	queueWait := time.Since(it.enqueued)
	resp, err := it.run(ctx, it.tok, queueWait)

	// A cancelled request never publishes a normal result, even if the
	// pipeline raced the checkpoint and produced one.
	if cerr := it.tok.Err(); cerr != nil {
		s.settle(it, nil, cerr)

		return
	}

	s.settle(it, resp, err)
}

// settle delivers the outcome and releases the request id and its
// stream registration.
func (s *Scheduler) settle(it *item, resp *kiln.QueryResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settleLocked(it, resp, err)
}

func (s *Scheduler) settleLocked(it *item, resp *kiln.QueryResponse, err error) {
	if tok, ok := s.byID[it.req.RequestID]; ok && tok == it.tok {
		delete(s.byID, it.req.RequestID)
	}

	stream := it.req.Stream()
	if tok, ok := s.live[stream]; ok && tok == it.tok {
		delete(s.live, stream)
	}

	it.handle.deliver(resp, err)
}

// watchToken cancels ctx when the token fires.
func watchToken(ctx context.Context, tok *Token, cancel context.CancelFunc) func() {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-tok.Done():
			cancel()
		case <-ctx.Done():
		case <-stopped:
		}
	}()

	return func() { close(stopped); cancel() }
}

// CancelRequest cancels a live request by id. Returns whether the id
// was known.
func (s *Scheduler) CancelRequest(requestID, reason string) bool {
	if reason == "" {
		reason = ReasonExplicit
	}

	s.mu.Lock()
	tok, ok := s.byID[requestID]
	s.mu.Unlock()

	if !ok {
		return false
	}

	tok.Cancel(reason)
	s.logger.Debug("request cancelled",
		zap.String("requestId", requestID),
		zap.String("reason", reason))

	return true
}

// CancelStreamsFor cancels every pending and in-flight request whose
// stream belongs to uri. Used on document close.
func (s *Scheduler) CancelStreamsFor(uri string) {
	prefix := uri + "\x00"

	s.mu.Lock()
	var victims []*Token
	for stream, p := range s.pendings {
		if strings.HasPrefix(stream, prefix) {
			delete(s.pendings, stream)
			p.timer.Stop()
			victims = append(victims, p.it.tok)
			s.settleLocked(p.it, nil, fmt.Errorf("%w: %s", kiln.ErrCancelled, ReasonTeardown))
		}
	}
	for stream, tok := range s.live {
		if strings.HasPrefix(stream, prefix) {
			victims = append(victims, tok)
		}
	}
	s.mu.Unlock()

	for _, tok := range victims {
		tok.Cancel(ReasonTeardown)
	}
}

// Depths reports queued work per class, for stats and tests.
func (s *Scheduler) Depths() map[kiln.RequestClass]int {
	return map[kiln.RequestClass]int{
		kiln.ClassTyping:      len(s.typingQ),
		kiln.ClassInteractive: len(s.interactiveQ),
		kiln.ClassBackground:  len(s.backgroundQ),
	}
}

// Close cancels all outstanding work and stops the workers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	pendings := s.pendings
	s.pendings = make(map[string]*pending)
	var toks []*Token
	for _, tok := range s.byID {
		toks = append(toks, tok)
	}
	s.mu.Unlock()

	for _, p := range pendings {
		p.timer.Stop()
		p.it.tok.Cancel(ReasonShutdown)
		p.it.handle.deliver(nil, fmt.Errorf("%w: %s", kiln.ErrCancelled, ReasonShutdown))
	}
	for _, tok := range toks {
		tok.Cancel(ReasonShutdown)
	}

	s.cancel()
	s.wg.Wait()
}
