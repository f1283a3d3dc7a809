package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raftaar/ambudispatch/core/call"
	"github.com/raftaar/ambudispatch/core/classify"
	"github.com/raftaar/ambudispatch/core/events"
	"github.com/raftaar/ambudispatch/core/logger"
	coremetrics "github.com/raftaar/ambudispatch/core/metrics"
	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
	"github.com/raftaar/ambudispatch/internal/eventbus"
)

// Action names what the engine did in response to a trigger. The same values
// are returned on the webhook endpoint.
type Action string

const (
	ActionAssigned        Action = "assigned"
	ActionCalledNext      Action = "called_next"
	ActionNoMoreDrivers   Action = "no_more_drivers"
	ActionAlreadyAssigned Action = "already_assigned"
	ActionNotFound        Action = "not_found"
)

// Outcome describes the result of a dispatch step.
type Outcome struct {
	Action    Action `json:"action"`
	BookingID string `json:"booking_id,omitempty"`
	EntryID   string `json:"entry_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
}

// Notifier sends the terminal location message to the winning driver.
type Notifier interface {
	SendLocation(ctx context.Context, driverPhone string, b model.Booking) error
}

// CompletionEvent is a provider completion push, canonicalized by the API
// layer before it reaches the coordinator.
type CompletionEvent struct {
	ExecutionID string
	Status      string
	CallStatus  string
	Transcript  string
}

// Coordinator owns the assignment lifecycle of bookings: it builds the ranked
// queue, drives outbound calls, interprets verdicts and finalizes exactly one
// assignment per booking. Correctness under concurrent webhook deliveries and
// poll loops rests on the store's conditional guards, never on timing.
type Coordinator struct {
	store      queue.Store
	provider   call.Provider
	retriever  *call.Retriever
	classifier classify.Classifier
	notifier   Notifier
	sink       coremetrics.Sink
	bus        eventbus.EventBus
	log        logger.Logger
	cfg        Config

	bg     sync.WaitGroup
	bgCtx  context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a Coordinator. notifier, sink and bus may be nil.
func NewCoordinator(store queue.Store, provider call.Provider, retriever *call.Retriever, classifier classify.Classifier, notifier Notifier, cfg Config, sink coremetrics.Sink, bus eventbus.EventBus, log logger.Logger) (*Coordinator, error) {
	if store == nil || provider == nil || retriever == nil || classifier == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewCoordinator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:      store,
		provider:   provider,
		retriever:  retriever,
		classifier: classifier,
		notifier:   notifier,
		sink:       sink,
		bus:        bus,
		log:        log,
		cfg:        cfg,
		bgCtx:      ctx,
		cancel:     cancel,
	}, nil
}

// Close stops background continuations and waits for them to finish.
func (c *Coordinator) Close() error {
	c.cancel()
	c.bg.Wait()
	return nil
}

// RankCandidates orders candidates by distance ascending, tie-broken by
// driver id for determinism.
func RankCandidates(cands []model.Candidate) []model.Candidate {
	out := append([]model.Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKM != out[j].DistanceKM {
			return out[i].DistanceKM < out[j].DistanceKM
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out
}

// DispatchBooking is the single entry point: it persists the booking and
// candidates, creates the ranked queue and works through it until a driver
// accepts or the queue is exhausted.
func (c *Coordinator) DispatchBooking(ctx context.Context, booking model.Booking, candidates []model.Candidate) (Outcome, error) {
	if booking.ID == "" {
		return Outcome{}, fmt.Errorf("dispatch: booking id required")
	}
	if _, err := c.store.GetBooking(ctx, booking.ID); err != nil {
		if !errors.Is(err, queue.ErrNotFound) {
			return Outcome{}, err
		}
		if err := c.store.SaveBooking(ctx, booking); err != nil {
			return Outcome{}, fmt.Errorf("save booking: %w", err)
		}
	}
	for _, cand := range candidates {
		if err := c.store.SaveDriver(ctx, cand.Driver); err != nil {
			return Outcome{}, fmt.Errorf("save driver %s: %w", cand.Driver.ID, err)
		}
	}
	ranked := RankCandidates(candidates)
	if _, err := c.store.CreateQueue(ctx, booking.ID, ranked); err != nil {
		if errors.Is(err, queue.ErrQueueExists) {
			// Repeated trigger for the same booking resumes the existing
			// queue instead of rebuilding it.
			c.log.Warnf("queue for booking %s already exists, resuming", booking.ID)
			return c.runLoop(ctx, booking.ID)
		}
		return Outcome{}, fmt.Errorf("create queue: %w", err)
	}
	c.log.Infof("dispatch started for booking %s with %d candidates", booking.Code, len(ranked))
	return c.runLoop(ctx, booking.ID)
}

// placedCall is an in-flight outbound call.
type placedCall struct {
	entry       model.QueueEntry
	executionID string
}

// runLoop advances through the queue until a terminal outcome.
func (c *Coordinator) runLoop(ctx context.Context, bookingID string) (Outcome, error) {
	for {
		placed, out, tryNext, err := c.placeNextCall(ctx, bookingID)
		if err != nil {
			return out, err
		}
		if placed != nil {
			var adv bool
			out, adv, err = c.awaitAndResolve(ctx, *placed)
			if err != nil {
				return out, err
			}
			tryNext = adv
		}
		if !tryNext {
			return out, nil
		}
		if !c.sleepCtx(ctx, c.advanceDelay()) {
			return Outcome{}, ctx.Err()
		}
	}
}

// placeNextCall reserves the lowest-position pending entry and places the
// outbound call. tryNext is true when this candidate must be skipped and the
// loop should move on (placement failure, lost reservation).
func (c *Coordinator) placeNextCall(ctx context.Context, bookingID string) (*placedCall, Outcome, bool, error) {
	assigned, err := c.store.IsBookingAssigned(ctx, bookingID)
	if err != nil {
		return nil, Outcome{}, false, err
	}
	if assigned {
		return nil, Outcome{Action: ActionAlreadyAssigned, BookingID: bookingID}, false, nil
	}

	entry, ok, err := c.store.NextPending(ctx, bookingID)
	if err != nil {
		return nil, Outcome{}, false, err
	}
	if !ok {
		return nil, c.exhaust(ctx, bookingID), false, nil
	}
	booking, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, Outcome{}, false, err
	}
	driver, err := c.store.GetDriver(ctx, entry.DriverID)
	if err != nil {
		return nil, Outcome{}, false, err
	}

	if err := c.store.MarkCalling(ctx, entry.ID, ""); err != nil {
		// Another worker reserved the entry first; skip it and look again.
		c.log.Warnf("entry %s reservation lost: %v", entry.ID, err)
		return nil, Outcome{}, true, nil
	}

	phone, err := call.NormalizePhone(driver.Phone, c.cfg.CountryCode)
	if err != nil {
		callFailures.Inc()
		c.recordSkip(ctx, entry, "invalid_phone", err)
		return nil, Outcome{}, true, nil
	}
	req := call.Request{
		Phone: phone,
		Context: call.Context{
			AlertType:      c.cfg.AlertType,
			DriverName:     driver.FullName(),
			BookingCode:    booking.Code,
			VictimLocation: booking.Address,
			NearbyHospital: booking.NearestHospital,
			ContactPhone:   booking.ContactPhone,
			Distance:       entry.DistanceLabel(),
			Timestamp:      time.Now().UTC(),
		},
	}
	execID, err := c.provider.PlaceCall(ctx, req)
	if err != nil {
		callFailures.Inc()
		c.recordSkip(ctx, entry, "call_failed", err)
		return nil, Outcome{}, true, nil
	}
	if err := c.store.SetEntryCallID(ctx, entry.ID, execID); err != nil {
		c.log.Errorf("store call id %s on entry %s: %v", execID, entry.ID, err)
	}
	callsPlaced.Inc()
	c.publish(events.CallPlacedEvent{
		BookingID:   bookingID,
		EntryID:     entry.ID,
		DriverID:    entry.DriverID,
		Position:    entry.Position,
		ExecutionID: execID,
		Time:        time.Now().UTC(),
	})
	c.log.Infof("calling driver %s (position %d) for booking %s", driver.FullName(), entry.Position, booking.Code)

	entry.Status = model.EntryCalling
	entry.CallID = execID
	return &placedCall{entry: entry, executionID: execID}, Outcome{}, false, nil
}

// awaitAndResolve waits for the call to finish, classifies the transcript and
// feeds the verdict through the shared decision path.
func (c *Coordinator) awaitAndResolve(ctx context.Context, p placedCall) (Outcome, bool, error) {
	res := c.retriever.AwaitCompletion(ctx, p.executionID)
	var analysis classify.Analysis
	var response string
	if res.Completed {
		analysis = c.classifier.Classify(res.Transcript)
		response = responseTag(analysis.Verdict)
	} else {
		analysis = classify.Analysis{
			Verdict:    classify.NoResponse,
			Confidence: classify.High,
			Reason:     "call timeout, likely not answered",
		}
		response = "timeout"
	}
	return c.resolve(ctx, p.entry, analysis, response, "poll", res.DurationSeconds)
}

// HandleCompletion is the webhook ingestion path. It converges on the same
// resolve sequence as the poller; a completion for an unknown or already
// resolved execution id is a safe no-op.
func (c *Coordinator) HandleCompletion(ctx context.Context, ev CompletionEvent) (Outcome, error) {
	entry, ok, err := c.store.FindCallingByCallID(ctx, ev.ExecutionID)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		c.log.Infof("webhook for unknown or resolved execution %s", ev.ExecutionID)
		webhookEvents.WithLabelValues(string(ActionNotFound)).Inc()
		return Outcome{Action: ActionNotFound}, nil
	}

	var analysis classify.Analysis
	var response string
	switch ev.CallStatus {
	case "failed", "no-answer", "busy":
		analysis = classify.Analysis{
			Verdict:    classify.NoResponse,
			Confidence: classify.High,
			Reason:     "call " + ev.CallStatus,
		}
		response = "no_answer"
	default:
		analysis = c.classifier.Classify(ev.Transcript)
		response = responseTag(analysis.Verdict)
	}

	out, advance, err := c.resolve(ctx, entry, analysis, response, "webhook", 0)
	if err != nil {
		return out, err
	}
	if !advance {
		webhookEvents.WithLabelValues(string(out.Action)).Inc()
		return out, nil
	}

	// Place the next call synchronously so the response names the action
	// taken; waiting on that call continues in the background.
	for {
		placed, out, tryNext, err := c.placeNextCall(ctx, entry.BookingID)
		if err != nil {
			return out, err
		}
		if placed != nil {
			c.continueAsync(entry.BookingID, *placed)
			out = Outcome{
				Action:    ActionCalledNext,
				BookingID: entry.BookingID,
				EntryID:   placed.entry.ID,
				DriverID:  placed.entry.DriverID,
			}
			webhookEvents.WithLabelValues(string(ActionCalledNext)).Inc()
			return out, nil
		}
		if !tryNext {
			webhookEvents.WithLabelValues(string(out.Action)).Inc()
			return out, nil
		}
	}
}

// continueAsync resumes the dispatch loop for an in-flight call placed by the
// webhook path. The continuation is tracked so Close can wait for it, and its
// errors are logged rather than dropped.
func (c *Coordinator) continueAsync(bookingID string, p placedCall) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		out, advance, err := c.awaitAndResolve(c.bgCtx, p)
		if err != nil {
			c.log.Errorf("background resolution for booking %s: %v", bookingID, err)
			return
		}
		if !advance {
			c.log.Debugw("background dispatch finished", map[string]any{
				"booking_id": bookingID,
				"action":     out.Action,
			})
			return
		}
		if !c.sleepCtx(c.bgCtx, c.advanceDelay()) {
			return
		}
		if _, err := c.runLoop(c.bgCtx, bookingID); err != nil {
			c.log.Errorf("background dispatch for booking %s: %v", bookingID, err)
		}
	}()
}

// resolve is the shared decision path of both ingestion routes. The
// assignment re-check before acting on any verdict is the mandatory
// cancellation checkpoint; the conditional finalize and the terminal-state
// guard neutralize whichever path arrives second.
func (c *Coordinator) resolve(ctx context.Context, entry model.QueueEntry, analysis classify.Analysis, response, source string, waitSeconds float64) (Outcome, bool, error) {
	raw, _ := json.Marshal(analysis)
	analysisJSON := string(raw)

	assigned, err := c.store.IsBookingAssigned(ctx, entry.BookingID)
	if err != nil {
		return Outcome{}, false, err
	}
	if assigned {
		c.recordOutcome(ctx, entry, model.EntryCancelled, "race", analysisJSON, analysis, source, waitSeconds)
		return Outcome{Action: ActionAlreadyAssigned, BookingID: entry.BookingID}, false, nil
	}

	if analysis.Verdict == classify.Accepted {
		return c.accept(ctx, entry, analysisJSON, analysis, source, waitSeconds)
	}

	status := model.EntryNoAnswer
	switch analysis.Verdict {
	case classify.Declined:
		status = model.EntryRejected
	case classify.Unclear:
		status = model.EntryUnclear
	}
	if !c.recordOutcome(ctx, entry, status, response, analysisJSON, analysis, source, waitSeconds) {
		// The other ingestion path resolved this entry first and drives the
		// queue from here.
		return Outcome{Action: ActionNotFound, BookingID: entry.BookingID, EntryID: entry.ID}, false, nil
	}
	c.log.Infof("driver %s resolved %s for booking %s, advancing", entry.DriverID, status, entry.BookingID)
	return Outcome{}, true, nil
}

// accept finalizes the assignment. FinalizeAssignment is the conditional
// write that decides the winner; everything after it runs exactly once.
func (c *Coordinator) accept(ctx context.Context, entry model.QueueEntry, analysisJSON string, analysis classify.Analysis, source string, waitSeconds float64) (Outcome, bool, error) {
	if err := c.store.FinalizeAssignment(ctx, entry.BookingID, entry.DriverID, entry.DistanceKM); err != nil {
		if errors.Is(err, queue.ErrAlreadyAssigned) {
			c.recordOutcome(ctx, entry, model.EntryCancelled, "race", analysisJSON, analysis, source, waitSeconds)
			return Outcome{Action: ActionAlreadyAssigned, BookingID: entry.BookingID}, false, nil
		}
		return Outcome{}, false, err
	}
	c.recordOutcome(ctx, entry, model.EntryAccepted, "yes", analysisJSON, analysis, source, waitSeconds)
	if err := c.store.CancelOthers(ctx, entry.BookingID, entry.ID); err != nil {
		c.log.Errorf("cancel others for booking %s: %v", entry.BookingID, err)
	}
	if err := c.sink.RecordAssignment(coremetrics.Assignment{
		BookingID:  entry.BookingID,
		DriverID:   entry.DriverID,
		DistanceKM: entry.DistanceKM,
		Attempts:   entry.Position,
		Time:       time.Now().UTC(),
	}); err != nil {
		c.log.Errorf("metrics error: %v", err)
	}
	c.publish(events.AssignedEvent{
		BookingID:  entry.BookingID,
		DriverID:   entry.DriverID,
		DistanceKM: entry.DistanceKM,
		Time:       time.Now().UTC(),
	})
	c.log.Infof("booking %s assigned to driver %s", entry.BookingID, entry.DriverID)
	c.notifyDriver(ctx, entry)
	return Outcome{Action: ActionAssigned, BookingID: entry.BookingID, EntryID: entry.ID, DriverID: entry.DriverID}, false, nil
}

// recordOutcome applies the terminal transition and, when it wins, emits the
// metrics and events for it. Returns false when the entry was already
// terminal (the idempotence guard fired).
func (c *Coordinator) recordOutcome(ctx context.Context, entry model.QueueEntry, status model.EntryStatus, response, analysisJSON string, analysis classify.Analysis, source string, waitSeconds float64) bool {
	if err := c.store.RecordOutcome(ctx, entry.ID, status, response, analysisJSON); err != nil {
		if errors.Is(err, queue.ErrAlreadyTerminal) {
			c.log.Infof("entry %s already resolved, ignoring %s from %s", entry.ID, status, source)
		} else {
			c.log.Errorf("record outcome %s for entry %s: %v", status, entry.ID, err)
		}
		return false
	}
	entryOutcomes.WithLabelValues(string(status), source).Inc()
	if err := c.sink.RecordCallOutcome(coremetrics.CallOutcome{
		BookingID:   entry.BookingID,
		EntryID:     entry.ID,
		DriverID:    entry.DriverID,
		Position:    entry.Position,
		Status:      status,
		Verdict:     string(analysis.Verdict),
		Source:      source,
		WaitSeconds: waitSeconds,
		Time:        time.Now().UTC(),
	}); err != nil {
		c.log.Errorf("metrics error: %v", err)
	}
	c.publish(events.OutcomeEvent{
		BookingID: entry.BookingID,
		EntryID:   entry.ID,
		DriverID:  entry.DriverID,
		Status:    status,
		Verdict:   analysis.Verdict,
		Source:    source,
		Time:      time.Now().UTC(),
	})
	return true
}

// recordSkip resolves an entry as failed when the call could not be placed.
// Per the error taxonomy this is equivalent to no answer: the queue advances.
func (c *Coordinator) recordSkip(ctx context.Context, entry model.QueueEntry, tag string, cause error) {
	c.log.Warnf("candidate %d for booking %s skipped (%s): %v", entry.Position, entry.BookingID, tag, cause)
	analysis := classify.Analysis{Verdict: classify.NoResponse, Confidence: classify.High, Reason: tag}
	c.recordOutcome(ctx, entry, model.EntryFailed, tag, "", analysis, "poll", 0)
}

// exhaust marks the booking as having no available drivers.
func (c *Coordinator) exhaust(ctx context.Context, bookingID string) Outcome {
	if err := c.store.SetBookingStatus(ctx, bookingID, model.BookingNoDriversAvailable); err != nil {
		c.log.Errorf("set booking %s status: %v", bookingID, err)
	}
	if err := c.store.AppendBookingRemark(ctx, bookingID, "all drivers in queue declined or unavailable"); err != nil {
		c.log.Errorf("append remark for booking %s: %v", bookingID, err)
	}
	queueExhausts.Inc()
	tried := 0
	if entries, err := c.store.ListEntries(ctx, bookingID); err == nil {
		tried = len(entries)
	}
	c.publish(events.ExhaustedEvent{BookingID: bookingID, Tried: tried, Time: time.Now().UTC()})
	c.log.Warnf("no drivers available for booking %s", bookingID)
	return Outcome{Action: ActionNoMoreDrivers, BookingID: bookingID}
}

// notifyDriver sends the location message to the assigned driver. Failures
// are logged and recorded on the booking, never unwound into the assignment.
func (c *Coordinator) notifyDriver(ctx context.Context, entry model.QueueEntry) {
	if c.notifier == nil {
		return
	}
	booking, err := c.store.GetBooking(ctx, entry.BookingID)
	if err != nil {
		c.log.Errorf("load booking %s for notification: %v", entry.BookingID, err)
		return
	}
	driver, err := c.store.GetDriver(ctx, entry.DriverID)
	if err != nil {
		c.log.Errorf("load driver %s for notification: %v", entry.DriverID, err)
		return
	}
	phone, err := call.NormalizePhone(driver.Phone, c.cfg.CountryCode)
	if err != nil {
		c.log.Errorf("driver %s phone for notification: %v", entry.DriverID, err)
		return
	}
	if err := c.notifier.SendLocation(ctx, phone, booking); err != nil {
		c.log.Errorf("location notification for booking %s: %v", booking.Code, err)
		if rerr := c.store.AppendBookingRemark(ctx, booking.ID, "location message failed: "+err.Error()); rerr != nil {
			c.log.Errorf("append remark for booking %s: %v", booking.ID, rerr)
		}
		return
	}
	if err := c.store.MarkWhatsAppSent(ctx, booking.ID); err != nil {
		c.log.Errorf("mark whatsapp sent for booking %s: %v", booking.ID, err)
	}
}

func (c *Coordinator) publish(e eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Coordinator) advanceDelay() time.Duration {
	return time.Duration(c.cfg.AdvanceDelaySeconds) * time.Second
}

// sleepCtx waits for d unless ctx ends first.
func (c *Coordinator) sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func responseTag(v classify.Verdict) string {
	switch v {
	case classify.Accepted:
		return "yes"
	case classify.Declined:
		return "no"
	case classify.Unclear:
		return "unclear"
	default:
		return "no_response"
	}
}
