package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	coremetrics "github.com/raftaar/ambudispatch/core/metrics"
	"github.com/raftaar/ambudispatch/core/model"
)

type recordingSink struct {
	outcomes    []coremetrics.CallOutcome
	assignments []coremetrics.Assignment
	err         error
}

func (r *recordingSink) RecordCallOutcome(ev coremetrics.CallOutcome) error {
	r.outcomes = append(r.outcomes, ev)
	return r.err
}

func (r *recordingSink) RecordAssignment(ev coremetrics.Assignment) error {
	r.assignments = append(r.assignments, ev)
	return r.err
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := NewMultiSink(a, b)

	ev := coremetrics.CallOutcome{BookingID: "b1", Status: model.EntryRejected, Source: "poll", Time: time.Now()}
	assert.NoError(t, m.RecordCallOutcome(ev))
	assert.Len(t, a.outcomes, 1)
	assert.Len(t, b.outcomes, 1)

	assert.NoError(t, m.RecordAssignment(coremetrics.Assignment{BookingID: "b1", DriverID: "d1"}))
	assert.Len(t, a.assignments, 1)
	assert.Len(t, b.assignments, 1)
}

func TestMultiSink_FirstErrorWins(t *testing.T) {
	failing := &recordingSink{err: errors.New("sink down")}
	ok := &recordingSink{}
	m := NewMultiSink(failing, ok)

	err := m.RecordCallOutcome(coremetrics.CallOutcome{})
	assert.EqualError(t, err, "sink down")
	// The healthy sink still received the event.
	assert.Len(t, ok.outcomes, 1)
}

func TestPromSink_Records(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, nil)
	assert.NoError(t, err)
	assert.NoError(t, sink.RecordCallOutcome(coremetrics.CallOutcome{Status: model.EntryAccepted, Source: "webhook", WaitSeconds: 12}))
	assert.NoError(t, sink.RecordAssignment(coremetrics.Assignment{Attempts: 2}))
}
