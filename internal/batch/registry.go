// Package batch holds the ordered collection of submitted images and the
// lifecycle of each one.
//
// Every mutation replaces the whole record collection under a single
// mutex, so readers always observe a consistent snapshot and no caller can
// hold an alias to a record inside the registry.
package batch

import (
	"sync"

	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/handle"

	"github.com/google/uuid"
)

// Initial progress values of a run.
const (
	ProgressStarted = 5
	ProgressDone    = 100
)

// EventKind classifies registry change notifications.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
)

// Event is delivered to subscribers after a mutation is visible. Seq
// increases by one per event in mutation order.
type Event struct {
	Seq    uint64    `json:"seq"`
	Kind   EventKind `json:"kind"`
	Record Record    `json:"record"`
}

// Completion is the outcome of a successful record run.
type Completion struct {
	Data        []byte
	MediaType   string
	DefaultName string
}

// Registry is the batch of records.
type Registry struct {
	mutex    sync.Mutex
	records  []Record
	settings Settings
	handles  *handle.Store

	subsMutex sync.Mutex
	subs      map[int]*subscriber
	nextSub   int
	seq       uint64
}

// subscriber queues events for one callback and delivers them from its own
// goroutine, so a slow callback never blocks a mutation.
type subscriber struct {
	fn     func(Event)
	mutex  sync.Mutex
	queue  []Event
	wake   chan struct{}
	done   chan struct{}
	closed sync.Once
}

func newSubscriber(fn func(Event)) *subscriber {
	sub := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go sub.loop()
	return sub
}

func (s *subscriber) push(events []Event) {
	s.mutex.Lock()
	s.queue = append(s.queue, events...)
	s.mutex.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mutex.Lock()
			pending := s.queue
			s.queue = nil
			s.mutex.Unlock()
			if len(pending) == 0 {
				break
			}
			for _, ev := range pending {
				select {
				case <-s.done:
					return
				default:
				}
				s.fn(ev)
			}
		}
	}
}

func (s *subscriber) stop() {
	s.closed.Do(func() { close(s.done) })
}

// NewRegistry returns an empty Registry whose handles are issued by handles.
func NewRegistry(handles *handle.Store, settings Settings) *Registry {
	return &Registry{
		settings: settings,
		handles:  handles,
		subs:     make(map[int]*subscriber),
	}
}

// Handles returns the store owning every preview and result handle.
func (r *Registry) Handles() *handle.Store {
	return r.handles
}

// Settings returns the current batch settings.
func (r *Registry) Settings() Settings {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.settings
}

// SetSettings replaces the batch settings. Runs already in progress keep
// the settings they started with.
func (r *Registry) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mutex.Lock()
	r.settings = s
	r.mutex.Unlock()
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that unregisters it. Events reach fn in mutation order on a goroutine
// owned by the subscription; fn may call back into the registry.
func (r *Registry) Subscribe(fn func(Event)) func() {
	sub := newSubscriber(fn)
	r.subsMutex.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.subsMutex.Unlock()

	return func() {
		r.subsMutex.Lock()
		delete(r.subs, id)
		r.subsMutex.Unlock()
		sub.stop()
	}
}

// publish numbers events and queues them for every subscriber. It must be
// called with r.mutex held so queue order matches mutation order.
func (r *Registry) publish(events ...Event) {
	r.subsMutex.Lock()
	defer r.subsMutex.Unlock()
	for i := range events {
		r.seq++
		events[i].Seq = r.seq
	}
	for _, sub := range r.subs {
		sub.push(events)
	}
}

// Add creates a pending record with a preview handle for each input and
// returns their IDs in input order.
func (r *Registry) Add(inputs ...Input) []string {
	if len(inputs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(inputs))
	events := make([]Event, 0, len(inputs))

	r.mutex.Lock()
	next := make([]Record, len(r.records), len(r.records)+len(inputs))
	copy(next, r.records)
	for _, in := range inputs {
		mediaType := codec.Normalize(in.MediaType)
		if mediaType == "" || mediaType == "application/octet-stream" {
			if guessed := codec.MediaTypeForName(in.Name); guessed != "" {
				mediaType = guessed
			}
		}
		rec := Record{
			ID:         uuid.NewString(),
			SourceName: in.Name,
			SourceType: mediaType,
			SourceSize: int64(len(in.Data)),
			Source:     in.Data,
			Preview:    r.handles.Create(in.Data, mediaType),
			Status:     StatusPending,
		}
		next = append(next, rec)
		ids = append(ids, rec.ID)
		events = append(events, Event{Kind: EventAdded, Record: rec})
	}
	r.records = next
	r.publish(events...)
	r.mutex.Unlock()

	return ids
}

// Snapshot returns a copy of all records in insertion order.
func (r *Registry) Snapshot() []Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Get returns the record with the given ID.
func (r *Registry) Get(id string) (Record, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if i := r.indexOf(id); i >= 0 {
		return r.records[i], true
	}
	return Record{}, false
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.records)
}

// Counts returns the number of records per status.
func (r *Registry) Counts() map[Status]int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	counts := make(map[Status]int)
	for _, rec := range r.records {
		counts[rec.Status]++
	}
	return counts
}

func (r *Registry) indexOf(id string) int {
	for i := range r.records {
		if r.records[i].ID == id {
			return i
		}
	}
	return -1
}

// update applies fn to a copy of the record and installs the result as a
// new collection. fn returning false leaves the registry untouched.
func (r *Registry) update(id string, fn func(rec *Record) bool) (Record, bool) {
	r.mutex.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mutex.Unlock()
		return Record{}, false
	}
	rec := r.records[i]
	if !fn(&rec) {
		r.mutex.Unlock()
		return Record{}, false
	}
	next := make([]Record, len(r.records))
	copy(next, r.records)
	next[i] = rec
	r.records = next
	r.publish(Event{Kind: EventUpdated, Record: rec})
	r.mutex.Unlock()
	return rec, true
}

// Begin moves a pending or errored record into StatusProcessing and starts
// a new run. The returned record carries the run generation that later
// Progress, Complete and Fail calls must present.
func (r *Registry) Begin(id string) (Record, bool) {
	return r.update(id, func(rec *Record) bool {
		if rec.Status != StatusPending && rec.Status != StatusError {
			return false
		}
		rec.Status = StatusProcessing
		rec.Progress = ProgressStarted
		rec.Err = nil
		rec.run++
		return true
	})
}

// Progress raises the progress of the current run. Lower values and calls
// for a stale run are ignored.
func (r *Registry) Progress(id string, run uint64, pct int) bool {
	pct = max(0, min(ProgressDone, pct))
	_, ok := r.update(id, func(rec *Record) bool {
		if rec.Status != StatusProcessing || rec.run != run || pct <= rec.Progress {
			return false
		}
		rec.Progress = pct
		return true
	})
	return ok
}

// Complete installs the result of the current run. A result handle is only
// allocated when the record is still present and still on run; otherwise
// nothing changes and false is returned.
func (r *Registry) Complete(id string, run uint64, c Completion) bool {
	_, ok := r.update(id, func(rec *Record) bool {
		if rec.Status != StatusProcessing || rec.run != run {
			return false
		}
		r.handles.Release(rec.ResultHandle)
		rec.Result = c.Data
		rec.ResultType = c.MediaType
		rec.ResultSize = int64(len(c.Data))
		rec.ResultHandle = r.handles.Create(c.Data, c.MediaType)
		if rec.DisplayName == "" {
			rec.DisplayName = c.DefaultName
		}
		rec.Status = StatusCompleted
		rec.Progress = ProgressDone
		rec.Err = nil
		return true
	})
	return ok
}

// Fail moves the current run into StatusError. Progress is left as it was.
func (r *Registry) Fail(id string, run uint64, message string) bool {
	_, ok := r.update(id, func(rec *Record) bool {
		if rec.Status != StatusProcessing || rec.run != run {
			return false
		}
		clearResult(r.handles, rec)
		rec.Status = StatusError
		rec.Err = &ErrorInfo{Message: message}
		return true
	})
	return ok
}

// Reset returns a completed or errored record to StatusPending, releasing
// its result.
func (r *Registry) Reset(id string) bool {
	_, ok := r.update(id, func(rec *Record) bool {
		if rec.Status != StatusCompleted && rec.Status != StatusError {
			return false
		}
		clearResult(r.handles, rec)
		rec.Status = StatusPending
		rec.Progress = 0
		rec.Err = nil
		return true
	})
	return ok
}

// Rename sets the display name of a record, whatever its status.
func (r *Registry) Rename(id, name string) bool {
	_, ok := r.update(id, func(rec *Record) bool {
		rec.DisplayName = name
		return true
	})
	return ok
}

// Remove deletes a record, releasing its handles before returning.
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()
	i := r.indexOf(id)
	if i < 0 {
		r.mutex.Unlock()
		return false
	}
	rec := r.records[i]
	next := make([]Record, 0, len(r.records)-1)
	next = append(next, r.records[:i]...)
	next = append(next, r.records[i+1:]...)
	r.records = next
	r.handles.Release(rec.Preview)
	r.handles.Release(rec.ResultHandle)
	r.publish(Event{Kind: EventRemoved, Record: rec})
	r.mutex.Unlock()
	return true
}

// Clear removes every record, releasing all handles.
func (r *Registry) Clear() {
	r.mutex.Lock()
	old := r.records
	r.records = nil
	for _, rec := range old {
		r.handles.Release(rec.Preview)
		r.handles.Release(rec.ResultHandle)
	}
	r.publish(Event{Kind: EventCleared})
	r.mutex.Unlock()
}

func clearResult(handles *handle.Store, rec *Record) {
	handles.Release(rec.ResultHandle)
	rec.Result = nil
	rec.ResultType = ""
	rec.ResultHandle = ""
	rec.ResultSize = 0
}
