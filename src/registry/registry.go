package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

const DefaultHistoryCap = 100

// Patch carries the fields an upsert sets. Nil fields are left untouched.
type Patch struct {
	Name         *string
	NodeType     *NodeType
	Capabilities []Capability
	Status       *Status
	Connection   *Connection
	Source       *Source
}

// Change is delivered to observers after a mutation that created, removed
// or moved a record to another status.
type Change struct {
	CameraId string
	From     Status
	To       Status
	Created  bool
	Removed  bool
}

type Observer func(c Change)

type Registry struct {
	mu         sync.RWMutex
	cameras    map[string]*CameraRecord
	historyCap int
	now        func() time.Time

	obsMu     sync.RWMutex
	observers []Observer
}

type Options struct {
	historyCap int
	clock      func() time.Time
}

type Optioner func(o *Options)

func WithHistoryCap(n int) Optioner {
	return func(o *Options) {
		o.historyCap = n
	}
}

func WithClock(clock func() time.Time) Optioner {
	return func(o *Options) {
		o.clock = clock
	}
}

func New(options ...Optioner) *Registry {
	opts := &Options{
		historyCap: DefaultHistoryCap,
		clock:      time.Now,
	}
	for _, o := range options {
		o(opts)
	}
	if opts.historyCap <= 0 {
		opts.historyCap = DefaultHistoryCap
	}
	return &Registry{
		cameras:    make(map[string]*CameraRecord),
		historyCap: opts.historyCap,
		now:        opts.clock,
	}
}

func (r *Registry) Observe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) notify(changes ...Change) {
	r.obsMu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.obsMu.RUnlock()
	for _, c := range changes {
		for _, o := range observers {
			o(c)
		}
	}
}

// Upsert merges p into the record of cameraId, creating it when missing.
// A patched status is applied only along a legal edge and silently kept otherwise.
func (r *Registry) Upsert(cameraId string, p Patch) (CameraRecord, error) {
	cameraId = strings.TrimSpace(cameraId)
	if cameraId == "" {
		return CameraRecord{}, custerror.FormatInvalidArgument("registry.Upsert: empty camera id")
	}

	r.mu.Lock()
	record, found := r.cameras[cameraId]
	change := Change{CameraId: cameraId}
	if !found {
		record = newRecord(cameraId)
		r.cameras[cameraId] = record
		change.Created = true
	} else {
		change.From = record.Status
	}

	if p.Name != nil && *p.Name != "" {
		record.Name = *p.Name
	}
	if p.NodeType != nil {
		record.NodeType = *p.NodeType
	}
	if p.Capabilities != nil {
		record.Capabilities = append([]Capability(nil), p.Capabilities...)
	}
	if p.Connection != nil {
		record.Connection = *p.Connection
	}
	if p.Source != nil && record.Source == "" {
		record.Source = *p.Source
	}
	if p.Status != nil && *p.Status != record.Status {
		if change.Created || CanTransition(record.Status, *p.Status) {
			record.Status = *p.Status
		} else {
			logger.SDebug("registry.Upsert: status edge ignored",
				zap.String("cameraId", cameraId),
				zap.String("from", string(record.Status)),
				zap.String("to", string(*p.Status)))
		}
	}
	change.To = record.Status
	record.LastSeen = r.now()
	out := record.clone()
	r.mu.Unlock()

	if change.Created || change.From != change.To {
		r.notify(change)
	}
	return out, nil
}

func newRecord(cameraId string) *CameraRecord {
	return &CameraRecord{
		CameraId:     cameraId,
		Name:         "Camera " + cameraId,
		NodeType:     NodeTypeUnknown,
		Capabilities: []Capability{CapabilityStreaming},
		Status:       StatusDiscovered,
	}
}

func (r *Registry) Get(cameraId string) (CameraRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, found := r.cameras[cameraId]
	if !found {
		return CameraRecord{}, custerror.FormatNotFound("registry.Get: camera %s not found", cameraId)
	}
	return record.clone(), nil
}

// List returns a snapshot of every record ordered by camera id.
func (r *Registry) List() []CameraRecord {
	r.mu.RLock()
	out := make([]CameraRecord, 0, len(r.cameras))
	for _, record := range r.cameras {
		out = append(out, record.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CameraId < out[j].CameraId
	})
	return out
}

func (r *Registry) Remove(cameraId string) error {
	r.mu.Lock()
	record, found := r.cameras[cameraId]
	if !found {
		r.mu.Unlock()
		return custerror.FormatNotFound("registry.Remove: camera %s not found", cameraId)
	}
	delete(r.cameras, cameraId)
	r.mu.Unlock()

	r.notify(Change{
		CameraId: cameraId,
		From:     record.Status,
		Removed:  true,
	})
	return nil
}

func (r *Registry) AppendEvent(cameraId string, d Detection, e Event) error {
	_, err := r.Update(cameraId, func(record *CameraRecord) error {
		record.PushEvent(d, e)
		return nil
	})
	return err
}

// Transition moves an existing record to status. Moving to the current
// status is a no-op; an illegal edge is ErrorFailedPrecondition.
func (r *Registry) Transition(cameraId string, status Status) (Change, error) {
	r.mu.Lock()
	record, found := r.cameras[cameraId]
	if !found {
		r.mu.Unlock()
		return Change{}, custerror.FormatNotFound("registry.Transition: camera %s not found", cameraId)
	}
	change := Change{
		CameraId: cameraId,
		From:     record.Status,
		To:       status,
	}
	if record.Status == status {
		r.mu.Unlock()
		return change, nil
	}
	if !CanTransition(record.Status, status) {
		r.mu.Unlock()
		return change, custerror.FormatFailedPrecondition("registry.Transition: camera %s %s -> %s not allowed",
			cameraId, change.From, status)
	}
	record.Status = status
	record.LastSeen = r.now()
	r.mu.Unlock()

	r.notify(change)
	return change, nil
}

// Update runs fn on the stored record under the write lock. fn may not change
// identity or status; histories are trimmed to the cap afterwards.
func (r *Registry) Update(cameraId string, fn func(record *CameraRecord) error) (CameraRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, found := r.cameras[cameraId]
	if !found {
		return CameraRecord{}, custerror.FormatNotFound("registry.Update: camera %s not found", cameraId)
	}

	working := record.clone()
	if err := fn(&working); err != nil {
		return record.clone(), err
	}
	working.CameraId = record.CameraId
	working.Status = record.Status
	working.trim(r.historyCap)
	working.LastSeen = r.now()
	*record = working
	return record.clone(), nil
}

func (r *Registry) SetRecording(cameraId string, state *RecordingState) error {
	_, err := r.Update(cameraId, func(record *CameraRecord) error {
		if state == nil {
			record.Recording = nil
			return nil
		}
		s := *state
		record.Recording = &s
		return nil
	})
	return err
}

// Stale lists the ids of records not offline and not seen since before.
func (r *Registry) Stale(before time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, record := range r.cameras {
		if record.Status != StatusOffline && record.LastSeen.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) HistoryCap() int {
	return r.historyCap
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cameras)
}
