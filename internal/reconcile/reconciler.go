// Package reconcile decides, per target channel, whether a stream event creates,
// edits or retires a notification message, and carries that decision out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"streamrelay/internal/chat"
	"streamrelay/internal/eventbus"
	"streamrelay/internal/history"
	"streamrelay/internal/mention"
	"streamrelay/internal/observability/metrics"
	"streamrelay/internal/presence"
	"streamrelay/internal/render"
	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
)

const (
	defaultRatePerSec  = 5
	defaultCallTimeout = 10 * time.Second
	flushTimeout       = 10 * time.Second
)

// Targets supplies the resolved channels and the servers they belong to.
type Targets interface {
	Targets() []chat.Channel
	Server(id string) (chat.Server, bool)
}

// Config holds the hot-reloadable knobs.
type Config struct {
	Mentions    map[string]string
	Render      render.Options
	RatePerSec  int
	CallTimeout time.Duration
}

// Deps are the collaborators. Presence, Bus and Metrics are optional.
type Deps struct {
	Client   chat.Client
	Targets  Targets
	History  *history.Store
	Presence *presence.Tracker
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

// OutcomeEvent is published on the bus as "relay.<outcome>".
type OutcomeEvent struct {
	RunID     string `json:"run_id"`
	Account   string `json:"account"`
	Subject   string `json:"subject"`
	ServerID  string `json:"server_id"`
	Channel   string `json:"channel"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Reconciler struct {
	d Deps

	mu          sync.RWMutex
	mentions    map[string]string
	renderer    *render.Renderer
	limiter     *rate.Limiter
	callTimeout time.Duration

	accounts *keyedMutex
	newRunID func() string
}

func New(d Deps, cfg Config) *Reconciler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	r := &Reconciler{
		d:        d,
		accounts: newKeyedMutex(),
		newRunID: func() string { return uuid.NewString() },
	}
	r.Apply(cfg)
	return r
}

// Apply swaps mentions, render options and pacing. In-flight events keep the
// values they started with.
func (r *Reconciler) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	mentions := make(map[string]string, len(cfg.Mentions))
	for k, v := range cfg.Mentions {
		mentions[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.mentions = mentions
	r.renderer = render.New(cfg.Render)
	if r.limiter == nil {
		r.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	} else {
		r.limiter.SetLimit(rate.Limit(rps))
		r.limiter.SetBurst(rps)
	}
	r.callTimeout = timeout
}

type runState struct {
	runID       string
	ev          stream.Event
	mentionSpec string
	renderer    *render.Renderer
	editContent chat.Content
	limiter     *rate.Limiter
	callTimeout time.Duration
	log         logx.Logger
}

// Handle reconciles ev against every current target channel. Channels are handled
// concurrently and independently; history is flushed once afterwards. Events for
// the same account are processed one at a time, in arrival order.
func (r *Reconciler) Handle(ctx context.Context, ev stream.Event) Result {
	unlock := r.accounts.Lock(ev.AccountID)
	defer unlock()

	begin := time.Now()
	r.mu.RLock()
	st := &runState{
		runID:       r.newRunID(),
		ev:          ev,
		mentionSpec: mention.Lookup(r.mentions, ev.AccountID),
		renderer:    r.renderer,
		limiter:     r.limiter,
		callTimeout: r.callTimeout,
	}
	r.mu.RUnlock()
	st.editContent = st.renderer.Render(ev, "")
	st.log = r.d.Log.With(
		logx.String("run", st.runID),
		logx.String("account", ev.AccountID),
		logx.String("subject", ev.SubjectID),
		logx.Bool("live", ev.IsLive),
	)

	if ev.IsLive && r.d.Presence != nil {
		r.d.Presence.MarkOnline(ev.AccountID, ev)
	}

	targets := r.d.Targets.Targets()
	res := Result{RunID: st.runID, Event: ev, Channels: make([]ChannelResult, len(targets))}

	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch chat.Channel) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					st.log.Error("channel reconcile panicked", logx.String("channel", ch.Name), logx.Any("panic", p))
					res.Channels[i] = ChannelResult{Channel: ch, Key: keyFor(ch, ev), Outcome: Failed, Err: fmt.Errorf("panic: %v", p)}
				}
			}()
			res.Channels[i] = r.reconcileChannel(ctx, st, ch)
		}(i, ch)
	}
	wg.Wait()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	res.FlushErr = r.d.History.Flush(fctx)
	cancel()
	r.d.Metrics.Flush(res.FlushErr, r.d.History.Len())
	if res.FlushErr != nil {
		st.log.Error("history flush failed", logx.Err(res.FlushErr))
	}

	r.report(st, res)
	r.d.Metrics.Event(ev.IsLive, res.Handled(), time.Since(begin))
	return res
}

func keyFor(ch chat.Channel, ev stream.Event) history.Key {
	return history.Key{ServerID: ch.ServerID, ChannelName: ch.Name, SubjectID: ev.SubjectID}
}

func (r *Reconciler) reconcileChannel(ctx context.Context, st *runState, ch chat.Channel) ChannelResult {
	key := keyFor(ch, st.ev)
	res := ChannelResult{Channel: ch, Key: key}
	log := st.log.With(logx.String("server", ch.ServerName), logx.String("channel", ch.Name))

	fail := func(stage string, err error) ChannelResult {
		res.Outcome, res.Stage, res.Err = Failed, stage, err
		return res
	}

	if id, ok := r.d.History.Get(key); ok {
		res.MessageID = id

		var msg *chat.Message
		err := r.call(ctx, st, "fetch", func(cctx context.Context) (err error) {
			msg, err = r.d.Client.Fetch(cctx, ch, id)
			return err
		})
		switch {
		case chat.KindOf(err) == chat.KindNotFound:
			// deleted externally; the next live event posts a fresh message
			r.d.History.Delete(key)
			log.Info("tracked message is gone; forgetting it", logx.String("message", id))
			res.Outcome = Stale
			return res
		case err != nil:
			log.Warn("cannot fetch tracked message", logx.String("message", id), logx.Err(err))
			return fail("fetch", err)
		}

		err = r.call(ctx, st, "edit", func(cctx context.Context) error {
			return r.d.Client.Edit(cctx, msg, st.editContent)
		})
		switch {
		case chat.KindOf(err) == chat.KindNotFound:
			r.d.History.Delete(key)
			log.Info("tracked message vanished before edit; forgetting it", logx.String("message", id))
			res.Outcome = Stale
			return res
		case err != nil:
			log.Warn("cannot edit announcement", logx.String("message", id), logx.Err(err))
			return fail("edit", err)
		}

		if !st.ev.IsLive {
			r.d.History.Delete(key)
			log.Debug("announcement closed", logx.String("message", id))
			res.Outcome = Closed
			return res
		}
		log.Debug("announcement updated", logx.String("message", id))
		res.Outcome = Edited
		return res
	}

	if !st.ev.IsLive {
		res.Outcome = SkippedOffline
		return res
	}

	token := r.resolveMention(st, ch, log)
	content := st.renderer.Render(st.ev, token)

	var id string
	err := r.call(ctx, st, "send", func(cctx context.Context) (err error) {
		id, err = r.d.Client.Send(cctx, ch, content)
		return err
	})
	if err != nil {
		log.Warn("cannot send announcement", logx.Err(err))
		return fail("send", err)
	}
	if id == "" {
		return fail("send", errors.New("chat client returned an empty message id"))
	}
	r.d.History.Put(key, id)
	log.Info("announcement sent", logx.String("message", id))
	res.Outcome, res.MessageID = Sent, id
	return res
}

func (r *Reconciler) resolveMention(st *runState, ch chat.Channel, log logx.Logger) string {
	if st.mentionSpec == "" {
		return ""
	}
	srv, ok := r.d.Targets.Server(ch.ServerID)
	if !ok {
		srv = chat.Server{ID: ch.ServerID, Name: ch.ServerName}
	}
	token, warn := mention.Resolve(st.mentionSpec, srv)
	if warn != nil {
		log.Warn(warn.String(), logx.String("role", warn.Role), logx.String("server_id", warn.ServerID))
	}
	return token
}

// call paces and bounds one chat operation.
func (r *Reconciler) call(ctx context.Context, st *runState, op string, fn func(ctx context.Context) error) error {
	if err := st.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	cctx, cancel := context.WithTimeout(ctx, st.callTimeout)
	defer cancel()
	err := fn(cctx)
	r.d.Metrics.ChatCall(op, err)
	return err
}

func (r *Reconciler) report(st *runState, res Result) {
	counts := map[Outcome]int{}
	for _, c := range res.Channels {
		counts[c.Outcome]++
		r.d.Metrics.Outcome(c.Outcome.String())
		if r.d.Bus == nil {
			continue
		}
		oe := OutcomeEvent{
			RunID:     st.runID,
			Account:   st.ev.AccountID,
			Subject:   st.ev.SubjectID,
			ServerID:  c.Channel.ServerID,
			Channel:   c.Channel.Name,
			MessageID: c.MessageID,
		}
		if c.Err != nil {
			oe.Error = c.Err.Error()
		}
		r.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeRelayPrefix + c.Outcome.String(), Data: oe})
	}
	st.log.Debug("event reconciled",
		logx.Int("channels", len(res.Channels)),
		logx.Int("sent", counts[Sent]),
		logx.Int("edited", counts[Edited]),
		logx.Int("closed", counts[Closed]),
		logx.Int("stale", counts[Stale]),
		logx.Int("failed", counts[Failed]),
		logx.Bool("handled", res.Handled()),
	)
}
