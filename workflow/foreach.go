package workflow

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// execForeach maps the body over an array input with bounded concurrency.
// Items run in batches of the configured concurrency: the next batch is
// not scheduled until every item of the current batch settles. Output
// preserves the original array order regardless of completion order.
//
// Each item gets an isolated read view of the run context, so concurrent
// siblings never observe each other's partial writes. User-state writes
// made by items are buffered per batch and merged into the run state only
// after the batch settles, bounding snapshot writes to one per batch.
func (e *executor) execForeach(ctx context.Context, sc *scope, n *node, input any, path Path) (any, error) {
	bodyID := n.exec.ExecID()

	if prior, ok := sc.results.get(bodyID); ok && prior.Status == StepSuccess {
		return prior.Output, nil
	}

	items, err := asItems(input)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: foreach %q: %w", sc.def.cfg.ID, bodyID, err)
	}

	resumeHere := len(sc.resume) > 0 && sc.resume[0] == bodyID

	// Prior per-item results, for replay after resume or restart.
	var itemPriors map[string]*StepResult
	started := time.Now().UTC()
	if prior, ok := sc.results.get(bodyID); ok {
		itemPriors = prior.Steps
		started = prior.StartedAt
	}

	record := &StepResult{
		Status:    StepRunning,
		Payload:   input,
		StartedAt: started,
		Steps:     make(map[string]*StepResult, len(items)),
	}
	for k, v := range itemPriors {
		record.Steps[k] = v
	}
	sc.results.set(bodyID, record)

	outputs := make([]any, len(items))
	errs := make([]error, len(items))
	itemRecords := make([]*StepResult, len(items))

	var progressMu sync.Mutex
	completed := 0
	for _, prior := range itemPriors {
		if prior.Status == StepSuccess {
			completed++
		}
	}

	for batchStart := 0; batchStart < len(items); batchStart += n.concurrency {
		if e.run.cancel.Canceled() {
			return nil, errCanceled
		}
		batchEnd := min(batchStart+n.concurrency, len(items))

		batch := newBatchState(sc.state.snapshotState())
		var g errgroup.Group
		for i := batchStart; i < batchEnd; i++ {
			g.Go(func() error {
				key := strconv.Itoa(i)

				itemResults := sc.results.readView()
				itemResults.delete(bodyID)
				if prior, ok := itemPriors[key]; ok {
					itemResults.set(bodyID, prior)
				}
				itemScope := &scope{
					def:        sc.def,
					results:    itemResults,
					state:      batch,
					resumeData: sc.resumeData,
				}
				// Resume data reaches only items that actually suspended;
				// items executing fresh after the resume run cold.
				if resumeHere {
					if prior, ok := itemPriors[key]; ok && prior.Status == StepSuspended {
						itemScope.resume = sc.resume
					}
				}

				outputs[i], errs[i] = e.execExecutable(ctx, itemScope, n.exec, items[i], path.index(i), true)

				itemRecord, _ := itemScope.results.get(bodyID)
				status := StepFailed
				if itemRecord != nil {
					status = itemRecord.Status
					itemRecords[i] = itemRecord
				}

				progressMu.Lock()
				if status == StepSuccess {
					completed++
				}
				done := completed
				progressMu.Unlock()

				e.emitEvent(Event{
					Type:   EventStepProgress,
					StepID: bodyID,
					Progress: &ForeachProgress{
						CompletedCount:  done,
						TotalCount:      len(items),
						CurrentIndex:    i,
						IterationStatus: status,
					},
				})
				return nil
			})
		}
		g.Wait()

		record = record.clone()
		for i := batchStart; i < batchEnd; i++ {
			if itemRecords[i] != nil {
				record.Steps[strconv.Itoa(i)] = itemRecords[i]
			}
		}
		sc.state.mergeState(batch.writes())
		sc.results.set(bodyID, record)
		e.checkpoint(ctx)

		if err := classifyForeach(errs[batchStart:batchEnd], batchStart, sc.def.cfg.ID, bodyID); err != nil {
			record = record.clone()
			now := time.Now().UTC()
			switch sig := err.(type) {
			case *suspension:
				record.Status = StepSuspended
				record.SuspendedAt = &now
			case *bailSignal:
				// Bail is a successful early exit here too: the foreach
				// settles success with the bail output.
				record.Status = StepSuccess
				record.Output = sig.output
				record.EndedAt = &now
			default:
				record.Status = StepFailed
				record.Error = err.Error()
				record.EndedAt = &now
			}
			sc.results.set(bodyID, record)
			return nil, err
		}
	}

	ended := time.Now().UTC()
	record = record.clone()
	record.Status = StepSuccess
	record.Output = outputs
	record.EndedAt = &ended
	sc.results.set(bodyID, record)
	e.checkpoint(ctx)
	return outputs, nil
}

// classifyForeach settles one batch. Same priority as other concurrent
// blocks, with the failing item's index attached to ordinary errors.
func classifyForeach(errs []error, offset int, workflowID, bodyID string) error {
	var sus suspension
	var firstBail *bailSignal
	for i, err := range errs {
		if err == nil {
			continue
		}
		if err == errCanceled {
			return errCanceled
		}
		switch x := err.(type) {
		case *suspension:
			sus.sigs = append(sus.sigs, x.sigs...)
		case *bailSignal:
			if firstBail == nil {
				firstBail = x
			}
		default:
			return fmt.Errorf("workflow %s: foreach %q item %d: %w", workflowID, bodyID, offset+i, err)
		}
	}
	if firstBail != nil {
		return firstBail
	}
	if len(sus.sigs) > 0 {
		return &sus
	}
	return nil
}

// asItems normalizes the foreach input into an element slice.
func asItems(input any) ([]any, error) {
	if items, ok := input.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(input)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("input is %T, not an array", input)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
