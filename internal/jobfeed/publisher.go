package jobfeed

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vk/taskdispatch/internal/ctxlog"
	"github.com/vk/taskdispatch/internal/jobpool"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// connectTimeout bounds the wait for the initial connection.
const connectTimeout = 15 * time.Second

// EmitFunc sends one event with its payload.
type EmitFunc func(event string, payload any)

// Options configures Connect.
type Options struct {
	Namespace          string
	InsecureSkipVerify bool
}

// Publisher forwards pool and job events through an EmitFunc.
type Publisher struct {
	emit    EmitFunc
	closeFn func()
	logger  *slog.Logger

	mu       sync.Mutex
	poolSubs []func()
	jobSubs  map[jobpool.Job]func()
	closed   bool
}

// New returns a publisher that emits through emit. closeFn, when not nil,
// runs once on Close.
func New(logger *slog.Logger, emit EmitFunc, closeFn func()) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		emit:    emit,
		closeFn: closeFn,
		logger:  logger,
		jobSubs: make(map[jobpool.Job]func()),
	}
}

// Connect opens a socket.io connection to rawURL and returns a publisher
// bound to it. It blocks until the server accepts the connection, the
// connection fails, ctx is done or the connect timeout passes.
func Connect(ctx context.Context, rawURL string, opts Options) (*Publisher, error) {
	logger := ctxlog.FromContext(ctx).With("component", "jobfeed", "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("monitor URL %q must include a scheme and host", rawURL)
	}

	sockOpts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		sockOpts.SetPath(parsedURL.Path)
	}
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sockOpts)
	io := manager.Socket(opts.Namespace, sockOpts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to job monitor.", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	logger.Debug("Connecting to job monitor.")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}

	emit := func(event string, payload any) {
		io.Emit(event, payload)
	}
	closeFn := func() {
		logger.Debug("Disconnecting from job monitor.")
		io.Disconnect()
	}
	return New(logger, emit, closeFn), nil
}

// Attach publishes every job already in pool and every job added later,
// along with their status changes and removal.
func (p *Publisher) Attach(pool *jobpool.Pool) {
	unsubAdded := pool.OnJobAdded(p.jobAdded)
	unsubRemoved := pool.OnJobRemoved(p.jobRemoved)

	p.mu.Lock()
	p.poolSubs = append(p.poolSubs, unsubAdded, unsubRemoved)
	p.mu.Unlock()

	for _, job := range pool.Jobs() {
		p.jobAdded(job)
	}
}

func (p *Publisher) jobAdded(job jobpool.Job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if _, seen := p.jobSubs[job]; seen {
		p.mu.Unlock()
		return
	}
	// Placeholder so a concurrent Attach does not subscribe twice.
	p.jobSubs[job] = func() {}
	p.mu.Unlock()

	p.send(EventJobAdded, job)
	unsub := job.OnStatusChanged(func(j jobpool.Job, _ jobpool.Status) {
		p.send(EventJobStatus, j)
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		unsub()
		return
	}
	p.jobSubs[job] = unsub
	p.mu.Unlock()
}

func (p *Publisher) jobRemoved(job jobpool.Job) {
	p.mu.Lock()
	unsub, ok := p.jobSubs[job]
	delete(p.jobSubs, job)
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		return
	}
	unsub()
	if !closed {
		p.send(EventJobRemoved, job)
	}
}

func (p *Publisher) send(event string, job jobpool.Job) {
	payload := NewPayload(job)
	p.logger.Debug("Publishing job event.", "event", event, "job", payload.ID, "status", payload.Status)
	p.emit(event, payload)
}

// Close stops publishing and releases the connection. It is safe to call
// more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.poolSubs
	p.poolSubs = nil
	for _, unsub := range p.jobSubs {
		subs = append(subs, unsub)
	}
	p.jobSubs = nil
	p.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	if p.closeFn != nil {
		p.closeFn()
	}
}
