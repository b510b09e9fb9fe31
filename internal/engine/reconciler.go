package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/asynkron/protoactor-go/actor"

	"qalam/internal/counters"
	"qalam/internal/utils"
)

// ReconcileMsg asks for one reconciliation pass over Scope.
type ReconcileMsg struct {
	Scope string
}

// ReconcilerActor runs reconciliation passes one at a time: the mailbox
// serializes admin requests and ticker triggers.
type ReconcilerActor struct {
	reconciler *counters.Reconciler
	metrics    *utils.MetricsCollector
	logger     *slog.Logger
	timeout    time.Duration
}

func NewReconcilerActor(r *counters.Reconciler, metrics *utils.MetricsCollector, logger *slog.Logger, timeout time.Duration) actor.Actor {
	return &ReconcilerActor{
		reconciler: r,
		metrics:    metrics,
		logger:     logger,
		timeout:    timeout,
	}
}

func (a *ReconcilerActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.logger.Debug("reconciler actor started")
	case *actor.Stopping:
		a.logger.Debug("reconciler actor stopping")
	case *ReconcileMsg:
		a.handleReconcile(context, msg)
	}
}

func (a *ReconcilerActor) handleReconcile(context actor.Context, msg *ReconcileMsg) {
	startTime := time.Now()
	ctx, cancel := newTimeoutContext(a.timeout)
	defer cancel()

	report, err := a.reconciler.Run(ctx, msg.Scope)
	if a.metrics != nil {
		a.metrics.AddOperationLatency("reconcile", time.Since(startTime))
	}

	var response any = report
	if err != nil {
		appErr, ok := utils.AsAppError(err)
		if !ok || appErr.Code == utils.ErrDatabase {
			a.logger.Error("reconciliation failed", "scope", msg.Scope, "error", err)
			if a.metrics != nil {
				a.metrics.IncrementErrors()
			}
		}
		if !ok {
			appErr = utils.NewAppError(utils.ErrDatabase, "reconciliation failed", err)
		}
		response = appErr
	}

	// ticker triggers are fire-and-forget
	if context.Sender() != nil {
		context.Respond(response)
	}
}

func newTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Engine owns the actor system and the reconciler's PID.
type Engine struct {
	system *actor.ActorSystem
	pid    *actor.PID
	logger *slog.Logger
}

func NewEngine(r *counters.Reconciler, metrics *utils.MetricsCollector, logger *slog.Logger, passTimeout time.Duration) *Engine {
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewReconcilerActor(r, metrics, logger, passTimeout)
	})
	return &Engine{
		system: system,
		pid:    system.Root.Spawn(props),
		logger: logger,
	}
}

// Reconcile runs a pass and waits for its report.
func (e *Engine) Reconcile(ctx context.Context, scope string) (*counters.Report, error) {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	result, err := e.system.Root.RequestFuture(e.pid, &ReconcileMsg{Scope: scope}, timeout).Result()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "reconciler did not answer", err)
	}
	switch r := result.(type) {
	case *counters.Report:
		return r, nil
	case *utils.AppError:
		return nil, r
	default:
		return nil, utils.NewAppError(utils.ErrDatabase, "unexpected reconciler response", nil)
	}
}

// StartTicker triggers a full pass every interval until ctx is done. A
// non-positive interval disables it.
func (e *Engine) StartTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.system.Root.Send(e.pid, &ReconcileMsg{Scope: counters.ScopeAll})
			}
		}
	}()
	e.logger.Info("periodic reconciliation enabled", "interval", interval)
}

func (e *Engine) Shutdown() {
	e.system.Root.Stop(e.pid)
}
