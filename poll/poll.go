// Package poll implements per-session fact polling described in spec §4.4
// PollFacts/StopFactsPolling: issue GetFacts on a fixed interval for a given
// set of FactKinds until stopped or the session disconnects.
//
// Grounded on the teacher's transport/server/stdio/server.go ListenAndServe
// loop shape: a goroutine driven by a ticker/cancellation check, torn down
// by a context. HMON's polling adds the "replace in-flight tick" rule from
// spec §4.4: a tick that is still outstanding when the next one fires is
// cancelled rather than left to delay the poller, which the teacher's simple
// accept loop has no occasion to need.
package poll

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lstefano71/hmonclient"
	"github.com/lstefano71/hmonclient/internal/pointer"
)

func decodeFactsResponse(raw []byte, dest *hmon.FactsResponse) error {
	return json.Unmarshal(raw, dest)
}

// Requester is the narrow Connection contract a Poller needs: issue a
// correlated GetFacts request. Kept as an interface so poll has no import
// dependency on conn.
type Requester interface {
	Request(ctx context.Context, command, uid string, payload interface{}) ([]byte, error)
}

// ResultFunc receives the decoded FactsResponse from each successful poll
// tick, or an error if the tick failed (timeout, connection lost). Poller
// does not retry a failed tick itself; it simply waits for the next one.
type ResultFunc func(hmon.FactsResponse, error)

// Poller issues GetFacts for one session on a fixed interval. One Poller
// exists per (SessionId, active PollFacts call); calling Start again while
// already running replaces the previous ticker per spec §4.4.
type Poller struct {
	session  hmon.SessionId
	conn     Requester
	kinds    hmon.FactKindList
	interval time.Duration
	timeout  time.Duration
	onResult ResultFunc
	logger   hmon.Logger
	newUID   func() string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller bound to a single session. newUID generates the UID
// attached to each GetFacts request; callers typically pass
// hmon.NewSessionId().String() or an equivalent unique-string generator.
func New(session hmon.SessionId, conn Requester, kinds hmon.FactKindList, interval, timeout time.Duration, newUID func() string, onResult ResultFunc, logger hmon.Logger) *Poller {
	if logger == nil {
		logger = hmon.NoopLogger{}
	}
	return &Poller{
		session:  session,
		conn:     conn,
		kinds:    kinds,
		interval: interval,
		timeout:  timeout,
		onResult: onResult,
		logger:   logger,
		newUID:   newUID,
	}
}

// Start begins ticking. If the Poller is already running, the previous
// ticker goroutine is stopped first and replaced, per spec §4.4 ("a second
// PollFacts call for the same session replaces the first, it does not
// stack").
func (p *Poller) Start(ctx context.Context) {
	p.Stop()

	p.mu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(loopCtx)
}

// Stop halts ticking. Idempotent; safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var tickWg sync.WaitGroup
	var inFlightCancel context.CancelFunc
	defer func() {
		if inFlightCancel != nil {
			inFlightCancel()
		}
		tickWg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a tick still outstanding when the next one fires is cancelled
			// and replaced, per spec §4.4, instead of delaying this tick.
			if inFlightCancel != nil {
				inFlightCancel()
			}
			tickCtx, cancel := context.WithCancel(ctx)
			inFlightCancel = cancel

			tickWg.Add(1)
			go func() {
				defer tickWg.Done()
				defer cancel()
				p.tick(tickCtx)
			}()
		}
	}
}

// tick runs one GetFacts round-trip. It is launched on its own goroutine by
// run so a slow or cancelled-and-replaced tick never delays the ticker.
func (p *Poller) tick(parent context.Context) {
	ctx := parent
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, p.timeout)
		defer cancel()
	}

	uid := p.newUID()
	req := hmon.GetFactsRequest{UID: uid, Facts: p.kinds}
	payload, err := hmon.WithUID(req, uid)
	if err != nil {
		p.logger.Errorf("poll session %s: encode request: %v", p.session, err)
		return
	}

	raw, err := p.conn.Request(ctx, hmon.CommandGetFacts, uid, payload)
	if err != nil {
		p.logger.Debugf("poll session %s: tick failed: %v", p.session, err)
		if p.onResult != nil {
			p.onResult(hmon.FactsResponse{}, err)
		}
		return
	}

	var facts hmon.FactsResponse
	if err := decodeFactsResponse(raw, &facts); err != nil {
		p.logger.Errorf("poll session %s: decode response: %v", p.session, err)
		if p.onResult != nil {
			p.onResult(hmon.FactsResponse{}, err)
		}
		return
	}
	if reported := pointer.Deref(facts.Interval); reported > 0 {
		p.logger.Debugf("poll session %s: interpreter reports interval %dms", p.session, reported)
	}
	if p.onResult != nil {
		p.onResult(facts, nil)
	}
}
