// Package submission tracks command buffer lifecycles from recording through
// GPU completion. It throttles how many frames may be outstanding, answers
// the resource manager's use queries so destroys can respect recorded and
// in-flight work, and drives deferred releases once submissions complete.
package submission

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/gfx-go/gfx/driver"
	"github.com/Carmen-Shannon/gfx-go/gfx/resource"
	"github.com/Carmen-Shannon/gfx-go/logging"
)

// defaultFramesInFlight bounds outstanding frames when the caller does not
// choose a limit.
const defaultFramesInFlight = 2

// completionQueueDepth sizes the completion worker's task queue.
const completionQueueDepth = 256

// Ticket is one command buffer's lifecycle record. Tickets are created by
// Tracker.Open and advanced by the tracker; the accessors are safe to call
// from any goroutine.
type Ticket struct {
	t      *tracker
	label  string
	state  State
	serial uint64
	err    error

	handles map[resource.Handle]struct{}
	spent   []driver.Buffer
}

// Label returns the command buffer name the ticket was opened with.
func (tk *Ticket) Label() string {
	return tk.label
}

// State returns the ticket's current lifecycle state.
func (tk *Ticket) State() State {
	tk.t.mu.Lock()
	defer tk.t.mu.Unlock()
	return tk.state
}

// Serial returns the submission serial, 0 until the ticket is submitted.
func (tk *Ticket) Serial() uint64 {
	tk.t.mu.Lock()
	defer tk.t.mu.Unlock()
	return tk.serial
}

// Err returns what failed a ticket, nil for every other state.
func (tk *Ticket) Err() error {
	tk.t.mu.Lock()
	defer tk.t.mu.Unlock()
	return tk.err
}

// Stats is a point-in-time summary of tracker activity.
type Stats struct {
	// Submitted, Completed, Failed and Discarded count tickets by the way
	// they left the open set.
	Submitted uint64
	Completed uint64
	Failed    uint64
	Discarded uint64

	// Open is the number of tickets still recording or recorded.
	Open int

	// InFlight is the number of submitted tickets the GPU has not finished.
	InFlight int

	// PendingFrames is the number of frame boundaries awaiting completion.
	PendingFrames int

	// CompletedSerial is the newest submission serial known to be done.
	CompletedSerial uint64
}

// Tracker owns command buffer lifecycles. It is the resource manager's
// UsageTracker, which is what turns a destroy of recorded-against resources
// into a use-after-destroy error and defers release for in-flight ones. All
// methods are safe for concurrent use.
type Tracker interface {
	// Open starts tracking a command buffer that is being recorded.
	//
	// Parameters:
	//   - label: the command buffer name, used in errors and logs
	//
	// Returns:
	//   - *Ticket: the lifecycle record to advance through the tracker
	Open(label string) *Ticket

	// Use records that the command buffer references the handles. Calls
	// after the ticket leaves the open states are ignored.
	//
	// Parameters:
	//   - tk: the ticket being recorded
	//   - handles: the referenced resource handles
	Use(tk *Ticket, handles ...resource.Handle)

	// MarkRecorded moves a ticket from recording to recorded once its
	// command buffer has finished encoding.
	//
	// Parameters:
	//   - tk: the ticket to advance
	//
	// Returns:
	//   - error: if the ticket is not in the recording state
	MarkRecorded(tk *Ticket) error

	// Submit hands finished work to the GPU queue, assigns the ticket its
	// submission serial and schedules completion handling. Spent staging
	// chunks are recycled once the submission completes.
	//
	// Parameters:
	//   - tk: a recorded ticket
	//   - cb: the finished driver command buffer
	//   - spent: staging chunks the command buffer copied from
	//
	// Returns:
	//   - uint64: the submission serial
	//   - error: if the ticket is not recorded or the queue rejects the work
	Submit(tk *Ticket, cb driver.CmdBuffer, spent []driver.Buffer) (uint64, error)

	// Discard drops unsubmitted work, releasing its resource references and
	// recycling its staging chunks. Discarding a submitted or terminal
	// ticket is a no-op.
	//
	// Parameters:
	//   - tk: the ticket to drop
	//   - spent: staging chunks the abandoned command buffer held
	Discard(tk *Ticket, spent []driver.Buffer)

	// MarkFrame records a frame boundary at the newest submission. Present
	// calls it so WaitFrameSlot can pace the frame loop.
	MarkFrame()

	// WaitFrameSlot blocks until the number of outstanding frames is below
	// the tracker's limit.
	//
	// Returns:
	//   - error: if the device was lost or the tracker shut down
	WaitFrameSlot() error

	// Flush blocks until every submission so far has completed and its
	// deferred releases have run.
	//
	// Returns:
	//   - error: the device loss that ended tracking, if any
	Flush() error

	// CompletedSerial returns the newest submission serial known to be done.
	//
	// Returns:
	//   - uint64: the completed serial, 0 before any submission completes
	CompletedSerial() uint64

	// RecordedUse reports whether a recorded but unsubmitted command buffer
	// references the resource.
	RecordedUse(h resource.Handle) bool

	// LastSubmittedUse returns the newest submission serial referencing the
	// resource and whether that submission is still in flight.
	LastSubmittedUse(h resource.Handle) (serial uint64, inFlight bool)

	// Stats returns a snapshot of tracker activity.
	//
	// Returns:
	//   - Stats: the snapshot
	Stats() Stats

	// Release drains outstanding completions and shuts the tracker down.
	Release()
}

type tracker struct {
	mu   *sync.Mutex
	cond *sync.Cond
	wg   sync.WaitGroup

	drv  driver.Driver
	mgr  resource.Manager
	pool worker.DynamicWorkerPool

	maxFrames int

	nextSerial      uint64
	lastSubmitted   uint64
	completedSerial uint64

	open     map[*Ticket]struct{}
	inFlight map[uint64]*Ticket
	lastUse  map[resource.Handle]uint64
	frames   []uint64

	submitted uint64
	completed uint64
	failed    uint64
	discarded uint64

	lost   error
	closed bool
}

var (
	_ Tracker               = &tracker{}
	_ resource.UsageTracker = &tracker{}
)

// NewTracker creates a submission tracker over a driver and the resource
// manager whose deferred releases it drives.
//
// Parameters:
//   - drv: the driver submissions are queued on
//   - mgr: the manager notified as submissions complete
//   - framesInFlight: how many frames may be outstanding, <= 0 for the default
//
// Returns:
//   - Tracker: the initialized tracker
func NewTracker(drv driver.Driver, mgr resource.Manager, framesInFlight int) Tracker {
	if framesInFlight <= 0 {
		framesInFlight = defaultFramesInFlight
	}
	mu := &sync.Mutex{}
	t := &tracker{
		mu:         mu,
		cond:       sync.NewCond(mu),
		drv:        drv,
		mgr:        mgr,
		maxFrames:  framesInFlight,
		nextSerial: 1,
		open:       make(map[*Ticket]struct{}),
		inFlight:   make(map[uint64]*Ticket),
		lastUse:    make(map[resource.Handle]uint64),
	}
	// A single worker processes completions in submission order, matching
	// the queue's own completion order.
	t.pool = worker.NewDynamicWorkerPool(1, completionQueueDepth, 1*time.Second)
	return t
}

func (t *tracker) Open(label string) *Ticket {
	tk := &Ticket{
		t:       t,
		label:   label,
		state:   StateRecording,
		handles: make(map[resource.Handle]struct{}),
	}
	t.mu.Lock()
	t.open[tk] = struct{}{}
	t.mu.Unlock()
	return tk
}

func (t *tracker) Use(tk *Ticket, handles ...resource.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !tk.state.Open() {
		return
	}
	for _, h := range handles {
		tk.handles[h] = struct{}{}
	}
}

func (t *tracker) MarkRecorded(tk *Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !tk.state.canTransition(StateRecorded) {
		return fmt.Errorf("%w: command buffer %q is %s, expected recording",
			driver.ErrInvalidDescriptor, tk.label, tk.state)
	}
	tk.state = StateRecorded
	return nil
}

func (t *tracker) Submit(tk *Ticket, cb driver.CmdBuffer, spent []driver.Buffer) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("%w: submitting after shutdown", driver.ErrDeviceLost)
	}
	if !tk.state.canTransition(StateSubmitted) {
		return 0, fmt.Errorf("%w: command buffer %q is %s, expected recorded",
			driver.ErrInvalidDescriptor, tk.label, tk.state)
	}

	// Submitting under the lock keeps serial order identical to queue order,
	// which is what lets one completion serial cover everything before it.
	if err := t.drv.Submit(cb); err != nil {
		tk.state = StateFailed
		tk.err = err
		delete(t.open, tk)
		t.failed++
		t.noteLostLocked(err)
		return 0, fmt.Errorf("failed to submit command buffer %q: %w", tk.label, err)
	}

	serial := t.nextSerial
	t.nextSerial++
	tk.state = StateSubmitted
	tk.serial = serial
	tk.spent = spent
	delete(t.open, tk)
	t.inFlight[serial] = tk
	for h := range tk.handles {
		t.lastUse[h] = serial
	}
	t.lastSubmitted = serial
	t.submitted++

	t.wg.Add(1)
	t.pool.SubmitTask(worker.Task{
		ID: int(serial),
		Do: func() (any, error) {
			t.completeTicket(tk)
			return nil, nil
		},
	})
	return serial, nil
}

// completeTicket runs on the completion worker. It waits for the device,
// advances the completed serial and hands deferred releases and spent
// staging back to the manager.
func (t *tracker) completeTicket(tk *Ticket) {
	defer t.wg.Done()

	err := t.drv.WaitIdle()

	t.mu.Lock()
	if err != nil {
		tk.state = StateFailed
		tk.err = err
		t.failed++
		t.noteLostLocked(err)
	} else {
		tk.state = StateCompleted
		t.completed++
	}
	if tk.serial > t.completedSerial {
		t.completedSerial = tk.serial
	}
	delete(t.inFlight, tk.serial)
	for h := range tk.handles {
		if t.lastUse[h] == tk.serial {
			delete(t.lastUse, h)
		}
	}
	tk.handles = nil
	spent := tk.spent
	tk.spent = nil
	for len(t.frames) > 0 && t.frames[0] <= t.completedSerial {
		t.frames = t.frames[1:]
	}
	completed := t.completedSerial
	t.cond.Broadcast()
	t.mu.Unlock()

	if err != nil {
		logging.Errorf("command buffer %q failed on the device: %v", tk.label, err)
	}
	// Manager callbacks run without the tracker lock held, destroys take
	// the manager lock first and call back into RecordedUse.
	t.mgr.ReleaseRetired(completed)
	if len(spent) > 0 {
		t.mgr.RecycleStaging(spent)
	}
}

func (t *tracker) Discard(tk *Ticket, spent []driver.Buffer) {
	t.mu.Lock()
	if !tk.state.canTransition(StateDiscarded) {
		t.mu.Unlock()
		return
	}
	tk.state = StateDiscarded
	tk.handles = make(map[resource.Handle]struct{})
	delete(t.open, tk)
	t.discarded++
	t.mu.Unlock()

	if len(spent) > 0 {
		t.mgr.RecycleStaging(spent)
	}
}

func (t *tracker) MarkFrame() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, t.lastSubmitted)
}

func (t *tracker) WaitFrameSlot() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		for len(t.frames) > 0 && t.frames[0] <= t.completedSerial {
			t.frames = t.frames[1:]
		}
		if t.lost != nil {
			return t.lost
		}
		if t.closed {
			return fmt.Errorf("%w: waiting after shutdown", driver.ErrDeviceLost)
		}
		if len(t.frames) < t.maxFrames {
			return nil
		}
		t.cond.Wait()
	}
}

func (t *tracker) Flush() error {
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

func (t *tracker) CompletedSerial() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedSerial
}

func (t *tracker) RecordedUse(h resource.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tk := range t.open {
		if _, ok := tk.handles[h]; ok {
			return true
		}
	}
	return false
}

func (t *tracker) LastSubmittedUse(h resource.Handle) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	serial, ok := t.lastUse[h]
	return serial, ok
}

func (t *tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		Submitted:       t.submitted,
		Completed:       t.completed,
		Failed:          t.failed,
		Discarded:       t.discarded,
		Open:            len(t.open),
		InFlight:        len(t.inFlight),
		PendingFrames:   len(t.frames),
		CompletedSerial: t.completedSerial,
	}
}

func (t *tracker) Release() {
	t.wg.Wait()

	t.mu.Lock()
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// noteLostLocked latches the first device loss so waiters stop blocking.
// Caller holds the lock.
func (t *tracker) noteLostLocked(err error) {
	if t.lost == nil && errors.Is(err, driver.ErrDeviceLost) {
		t.lost = err
		t.cond.Broadcast()
	}
}
