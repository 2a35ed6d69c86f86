package collab

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/events"
	"github.com/haoran/skuflow/internal/logger"
	"github.com/haoran/skuflow/internal/repository"
)

const (
	// accuracyWeight and loadWeight blend the dispatch score.
	accuracyWeight = 0.6
	loadWeight     = 0.4

	// coldStartTasks: annotators with fewer completions than this have
	// no meaningful accuracy yet and are picked at random.
	coldStartTasks = 10

	// hardTaskMinAccuracy gates hard tasks to proven annotators.
	hardTaskMinAccuracy = 0.85

	defaultMaxActive = 10
)

// Dispatcher assigns tasks to annotators by blended accuracy and load.
type Dispatcher struct {
	tasks      *repository.TaskRepository
	annotators *repository.AnnotatorRepository
	maxActive  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(tasks *repository.TaskRepository, annotators *repository.AnnotatorRepository, maxActive int, seed int64) *Dispatcher {
	if maxActive <= 0 {
		maxActive = defaultMaxActive
	}
	return &Dispatcher{
		tasks:      tasks,
		annotators: annotators,
		maxActive:  maxActive,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Run assigns tasks as their creation is announced. A task that cannot
// be assigned (no annotator free) stays CREATED and remains claimable
// by anyone through the queue.
func (d *Dispatcher) Run(ctx context.Context, bus *events.Dispatcher) {
	ctx = logger.SetComponent(ctx, "task_dispatcher")
	ch := bus.Subscribe(events.TopicTaskCreated)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			taskID, _ := ev.Payload["task_id"].(string)
			if taskID == "" {
				continue
			}
			task, err := d.tasks.GetByID(ctx, taskID)
			if err != nil || task.Status != domain.TaskCreated {
				continue
			}
			jctx := logger.SetJobID(ctx, task.JobID)
			if _, err := d.Assign(jctx, task); err != nil && !errors.Is(err, repository.ErrNoTaskAvailable) {
				logger.CtxWarn(jctx, "assignment failed: task_id=%s: %v", taskID, err)
			}
		}
	}
}

// Assign picks the best annotator for a task and records the
// assignment. Returns the chosen annotator ID.
func (d *Dispatcher) Assign(ctx context.Context, task *domain.HumanTask) (string, error) {
	available, err := d.annotators.ListAvailable(ctx, d.maxActive)
	if err != nil {
		return "", err
	}
	if task.IsHard {
		available = filterAccuracy(available, hardTaskMinAccuracy)
	}
	if len(available) == 0 {
		return "", repository.ErrNoTaskAvailable
	}

	chosen := d.pick(available)
	if err := d.annotators.IncrementActive(ctx, chosen.ID, d.maxActive); err != nil {
		return "", err
	}

	task.AssignedTo = chosen.ID
	task.Status = domain.TaskAssigned
	if err := d.tasks.Save(ctx, task); err != nil {
		if rerr := d.annotators.ReleaseActive(ctx, chosen.ID); rerr != nil {
			logger.CtxWarn(ctx, "slot rollback failed: %v", rerr)
		}
		return "", err
	}
	if err := d.tasks.AppendTransition(ctx, nil, task.ID, domain.TaskCreated, domain.TaskAssigned, "dispatcher", "assigned to "+chosen.ID); err != nil {
		logger.CtxWarn(ctx, "assignment audit row failed: %v", err)
	}
	logger.CtxInfo(ctx, "task assigned: task_id=%s annotator=%s score=%.3f", task.ID, chosen.ID, score(chosen, d.maxActive))
	return chosen.ID, nil
}

// pick chooses by blended score; cold-start annotators are picked at
// random so new hires get a fair trickle of work.
func (d *Dispatcher) pick(available []domain.Annotator) *domain.Annotator {
	var cold []*domain.Annotator
	for i := range available {
		if available[i].CompletedTasks < coldStartTasks {
			cold = append(cold, &available[i])
		}
	}
	if len(cold) > 0 {
		d.mu.Lock()
		defer d.mu.Unlock()
		return cold[d.rng.Intn(len(cold))]
	}

	best := &available[0]
	bestScore := score(best, d.maxActive)
	for i := 1; i < len(available); i++ {
		if s := score(&available[i], d.maxActive); s > bestScore {
			best, bestScore = &available[i], s
		}
	}
	return best
}

// score blends accuracy with remaining capacity.
func score(a *domain.Annotator, maxActive int) float64 {
	load := 1 - float64(a.ActiveTasks)/float64(maxActive)
	if load < 0 {
		load = 0
	}
	return a.Accuracy*accuracyWeight + load*loadWeight
}

func filterAccuracy(annotators []domain.Annotator, min float64) []domain.Annotator {
	var out []domain.Annotator
	for _, a := range annotators {
		// Cold-start annotators never receive hard tasks.
		if a.CompletedTasks >= coldStartTasks && a.Accuracy >= min {
			out = append(out, a)
		}
	}
	return out
}
