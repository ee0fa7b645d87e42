package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/telekom/mcauth/pkg/accounts"
	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/metrics"
)

// Event reports a state change of a running login.
type Event struct {
	State  State
	Time   time.Time
	Detail string
}

// Login is one running device-code sign-in.
type Login struct {
	UserCode        string
	VerificationURL string
	// VerificationURLComplete embeds the user code when the provider offers it.
	VerificationURLComplete string
	Message                 string
	ExpiresAt               time.Time

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	final State
}

// Begin requests a device code and starts polling in the background. The
// returned handle carries what the user needs to finish signing in. The
// flow stops when ctx is cancelled, Cancel is called, or Wait gives up.
func (p *Pipeline) Begin(ctx context.Context) (*Login, error) {
	session, err := withRetry(ctx, p, p.Device.StartDeviceFlow)
	if err != nil {
		metrics.Logins.WithLabelValues(failureState(err, ctx.Err()).Name()).Inc()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l := &Login{
		UserCode:                session.UserCode,
		VerificationURL:         session.VerificationURL,
		VerificationURLComplete: session.VerificationURLComplete,
		Message:                 session.Message,
		ExpiresAt:               session.ExpiresAt,
		events:                  make(chan Event, p.eventBuffer),
		cancel:                  cancel,
		done:                    make(chan struct{}),
	}

	start := DeviceCodeRequested{Session: session}
	l.emit(p.now(), start)
	go func() {
		defer close(l.done)
		defer close(l.events)
		defer cancel()
		final := p.drive(runCtx, start, func(st State) { l.emit(p.now(), st) })
		metrics.Logins.WithLabelValues(final.Name()).Inc()
		p.log.Infow("Sign-in finished", "state", final.Name())
		l.mu.Lock()
		l.final = final
		l.mu.Unlock()
	}()
	return l, nil
}

// emit never blocks; events are dropped when the buffer is full.
func (l *Login) emit(now time.Time, st State) {
	ev := Event{State: st, Time: now, Detail: detail(st)}
	select {
	case l.events <- ev:
	default:
	}
}

// Events streams state changes. The channel is closed when the flow ends.
func (l *Login) Events() <-chan Event {
	return l.events
}

// Cancel stops the flow. Wait then reports Cancelled.
func (l *Login) Cancel() {
	l.cancel()
}

// Done is closed once the flow reached a terminal state.
func (l *Login) Done() <-chan struct{} {
	return l.done
}

// State returns the terminal state, or nil while the flow is running.
func (l *Login) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.final
}

// Wait blocks until the flow ends and returns the signed-in account. If ctx
// ends first the flow is cancelled and Wait returns once it has stopped.
func (l *Login) Wait(ctx context.Context) (*accounts.MicrosoftAccount, error) {
	select {
	case <-l.done:
	case <-ctx.Done():
		l.cancel()
		<-l.done
	}
	switch st := l.State().(type) {
	case Completed:
		return st.Account, nil
	case Failure:
		return nil, st.Err()
	default:
		return nil, autherr.Protocol("pipeline.wait", "", errors.New("login ended without a terminal state"))
	}
}

func detail(st State) string {
	switch s := st.(type) {
	case PollingForAuthorization:
		return "interval " + s.Session.Interval.String()
	case ProfileVerified:
		return s.Profile.Name
	case Completed:
		return s.Account.Name
	case Failure:
		return autherr.UserMessage(s.Err())
	default:
		return ""
	}
}
