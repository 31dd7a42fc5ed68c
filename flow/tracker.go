package flow

import (
	"context"
	"time"

	"tokenledger/log"
	"tokenledger/metrics"
)

func init() {
	log.SkipFunc("tokenledger/flow.(*Tracker).report")
	log.SkipFunc("tokenledger/flow.(*Tracker).Set")
	log.SkipFunc("tokenledger/flow.NewTracker")
}

// Tracker records the progress of one flow.
// It is not safe for concurrent use.
type Tracker struct {
	name     string
	stage    Stage
	started  time.Time
	observer func(Stage)
}

// NewTracker returns a tracker for the flow called name,
// positioned at Generating. observer, if not nil, is called
// with every stage the flow enters, including the first.
func NewTracker(ctx context.Context, name string, observer func(Stage)) *Tracker {
	t := &Tracker{name: name, stage: Generating, started: time.Now(), observer: observer}
	t.report(ctx)
	return t
}

// Stage returns the current stage.
func (t *Tracker) Stage() Stage { return t.stage }

// Set moves the flow to s and records how long the
// previous stage took.
func (t *Tracker) Set(ctx context.Context, s Stage) {
	now := time.Now()
	metrics.Latency("flow." + t.name + "." + t.stage.String()).Record(now.Sub(t.started))
	t.stage, t.started = s, now
	t.report(ctx)
}

func (t *Tracker) report(ctx context.Context) {
	log.Printkv(ctx, "flow", t.name, "stage", t.stage, "message", t.stage.Message())
	if t.observer != nil {
		t.observer(t.stage)
	}
}
