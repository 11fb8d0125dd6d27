package packaging

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/paydeck/packager/core/infra/bus"
	"github.com/paydeck/packager/core/infra/logging"
	"github.com/paydeck/packager/core/packaging/jobs"
)

// Event is one progress record pushed on a job's stream. Keep-alive
// events carry no progress and exist only to defeat intermediary
// idle-timeouts; consumers must be able to ignore them.
type Event struct {
	JobID       string      `json:"job_id"`
	Status      jobs.Status `json:"status"`
	Message     string      `json:"message,omitempty"`
	Source      string      `json:"source,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	SignedURL   string      `json:"signed_url,omitempty"`
	Error       string      `json:"error,omitempty"`
	KeepAlive   bool        `json:"keep_alive,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ErrNoStream is returned when subscribing to a job whose stream has
// finished or never existed; callers fall back to polling the registry.
var ErrNoStream = errors.New("no active stream for job")

// ErrStreamBusy is returned when a job already has a subscriber attached.
var ErrStreamBusy = errors.New("stream already has a subscriber")

const streamSubject = "pkg.jobs."

// subscriberBuffer bounds how far a slow stream consumer may lag before
// events are dropped on its channel.
const subscriberBuffer = 32

// Broadcaster fans packaging lifecycle events out to at most one stream
// subscriber per job, emits periodic keep-alives, and mirrors real events
// to a message bus when one is configured. Subscriber cancellation never
// cancels the underlying pipeline.
type Broadcaster struct {
	mu        sync.Mutex
	feeds     map[string]*feed
	keepAlive time.Duration
	bus       bus.Bus
}

type feed struct {
	mu      sync.Mutex
	backlog []Event
	sub     chan Event
	done    chan struct{}
}

// NewBroadcaster builds a broadcaster with the given keep-alive cadence.
// eventBus may be nil.
func NewBroadcaster(keepAlive time.Duration, eventBus bus.Bus) *Broadcaster {
	return &Broadcaster{
		feeds:     make(map[string]*feed),
		keepAlive: keepAlive,
		bus:       eventBus,
	}
}

// Open creates the event feed for a job and starts its keep-alive ticker.
func (b *Broadcaster) Open(jobID string) {
	f := &feed{done: make(chan struct{})}
	b.mu.Lock()
	b.feeds[jobID] = f
	b.mu.Unlock()

	if b.keepAlive > 0 {
		go b.keepAliveLoop(jobID, f)
	}
}

func (b *Broadcaster) keepAliveLoop(jobID string, f *feed) {
	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.send(Event{
				JobID:     jobID,
				Status:    jobs.StatusProcessing,
				KeepAlive: true,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// Publish records the event in the job's backlog, delivers it to the
// attached subscriber if any, and mirrors it to the bus. Events for
// unknown jobs are dropped.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	f := b.feeds[ev.JobID]
	b.mu.Unlock()
	if f == nil {
		return
	}

	f.mu.Lock()
	f.backlog = append(f.backlog, ev)
	f.mu.Unlock()
	f.send(ev)

	if b.bus != nil {
		data, err := json.Marshal(ev)
		if err == nil {
			err = b.bus.Publish(streamSubject+ev.JobID, data)
		}
		if err != nil {
			logging.Error("events", "bus publish failed", "job", ev.JobID, "error", err)
		}
	}
}

// Close ends a job's stream: the keep-alive ticker stops, the subscriber
// channel is closed, and the feed is discarded. Later status reads go
// through the job registry.
func (b *Broadcaster) Close(jobID string) {
	b.mu.Lock()
	f := b.feeds[jobID]
	delete(b.feeds, jobID)
	b.mu.Unlock()
	if f == nil {
		return
	}

	close(f.done)
	f.mu.Lock()
	if f.sub != nil {
		close(f.sub)
		f.sub = nil
	}
	f.mu.Unlock()
}

// Subscribe attaches the single allowed subscriber to a job's stream. The
// returned channel first replays events published before attachment, then
// delivers live events, and is closed when the job finishes. The cancel
// function detaches the subscriber without affecting the pipeline.
func (b *Broadcaster) Subscribe(jobID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	f := b.feeds[jobID]
	b.mu.Unlock()
	if f == nil {
		return nil, nil, ErrNoStream
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return nil, nil, ErrNoStream
	default:
	}
	if f.sub != nil {
		return nil, nil, ErrStreamBusy
	}
	ch := make(chan Event, len(f.backlog)+subscriberBuffer)
	for _, ev := range f.backlog {
		ch <- ev
	}
	f.sub = ch

	cancel := func() {
		f.mu.Lock()
		if f.sub == ch {
			f.sub = nil
		}
		f.mu.Unlock()
	}
	return ch, cancel, nil
}

// send delivers to the subscriber without blocking; a consumer that
// cannot keep up loses events rather than stalling the pipeline.
func (f *feed) send(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub == nil {
		return
	}
	select {
	case f.sub <- ev:
	default:
		logging.Error("events", "dropping event for slow subscriber", "job", ev.JobID)
	}
}
