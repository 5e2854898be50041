package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gisbridge/internal/api"
	"gisbridge/internal/history"
	"gisbridge/internal/model"
	"gisbridge/internal/ui"
	"gisbridge/internal/workstation"
)

// ErrTimeout reports that the executor did not complete the command within
// the bridge timeout. The command may still finish in the background; its
// late completion is dropped by the signal's generation check.
var ErrTimeout = errors.New("command timed out")

// Submitter schedules a task to run later on the UI executor goroutine.
type Submitter interface {
	Submit(task ui.Task) error
}

// Router translates network requests into executor tasks and bounded waits.
// The mutex is the bridge's in-flight gate: it is held for the whole
// arm-submit-wait cycle, so concurrent callers queue instead of racing on
// the shared Result Cell.
type Router struct {
	mu      sync.Mutex
	signal  *Signal
	exec    Submitter
	ws      *workstation.Workstation
	store   *history.Store
	timeout time.Duration
}

// NewRouter wires the router. The history store may be nil; recording is
// best-effort and never fails a request.
func NewRouter(exec Submitter, ws *workstation.Workstation, store *history.Store, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{
		signal:  NewSignal(),
		exec:    exec,
		ws:      ws,
		store:   store,
		timeout: timeout,
	}
}

// InitCommandConsole runs the first step of a remote-driven session.
func (r *Router) InitCommandConsole(ctx context.Context) (bool, error) {
	res, err := r.dispatch(ctx, model.CommandInitConsole, nil, func(t *Token) {
		t.Complete(model.Result{OK: r.ws.InitCommandConsole()})
	})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// InitMapset switches the active dataset.
func (r *Router) InitMapset(ctx context.Context, p workstation.SessionParams) (bool, error) {
	if p.GrassDB == "" || p.Location == "" || p.Mapset == "" {
		return false, fmt.Errorf("grassdb, location, mapset are required")
	}
	res, err := r.dispatch(ctx, model.CommandInitMapset, p, func(t *Token) {
		t.Complete(model.Result{OK: r.ws.InitMapset(p)})
	})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// DisplayLayer adds a layer to the map display.
func (r *Router) DisplayLayer(ctx context.Context, query string) (bool, error) {
	if query == "" {
		return false, fmt.Errorf("query is required")
	}
	params := map[string]string{"query": query}
	res, err := r.dispatch(ctx, model.CommandDisplayLayer, params, func(t *Token) {
		t.Complete(model.Result{OK: r.ws.DisplayLayer(query)})
	})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// SetMapScale pins the map scale.
func (r *Router) SetMapScale(ctx context.Context, scale float64) (bool, error) {
	params := map[string]float64{"scale": scale}
	res, err := r.dispatch(ctx, model.CommandSetScale, params, func(t *Token) {
		t.Complete(model.Result{OK: r.ws.SetMapScale(scale)})
	})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

// RunModule forwards an arbitrary GIS command with its option map to the
// workstation's command facility and surfaces exit code, stdout, and stderr.
// A nonzero exit code is a domain failure carried in the Result, not an
// error.
func (r *Router) RunModule(ctx context.Context, name string, options map[string]string) (model.Result, error) {
	if name == "" {
		return model.Result{}, fmt.Errorf("cmd is required")
	}
	params := map[string]any{"cmd": name, "kwargs": options}
	return r.dispatch(ctx, model.CommandRunModule, params, func(t *Token) {
		cmdRes := r.ws.RunCommand(context.Background(), name, options)
		t.Complete(model.Result{
			OK:     cmdRes.Code == 0,
			Code:   cmdRes.Code,
			Stdout: cmdRes.Stdout,
			Stderr: cmdRes.Stderr,
		})
	})
}

// Snapshot serializes a /dump read through the executor so the snapshot
// observes a quiescent workstation.
func (r *Router) Snapshot(ctx context.Context) (api.DumpSnapshot, error) {
	res, err := r.dispatch(ctx, model.CommandSnapshot, nil, func(t *Token) {
		t.Complete(model.Result{OK: true, Payload: r.ws.Snapshot()})
	})
	if err != nil {
		return api.DumpSnapshot{}, err
	}
	snap, ok := res.Payload.(api.DumpSnapshot)
	if !ok {
		return api.DumpSnapshot{}, fmt.Errorf("snapshot task returned no payload")
	}
	return snap, nil
}

// Quit schedules termination and returns without waiting on the completion
// signal: no result is expected once the executor begins shutting down.
func (r *Router) Quit(ctx context.Context) error {
	if err := r.exec.Submit(r.ws.Quit); err != nil {
		return fmt.Errorf("submit quit: %w", err)
	}
	r.record(ctx, model.CommandQuit, nil, model.ResultOK, nil, time.Now().UTC(), time.Now().UTC())
	return nil
}

// dispatch runs the shared protocol: arm, submit, bounded wait, record. The
// gate serializes the whole cycle so only one command is ever in flight. A
// panic inside the scheduled task is recovered at the scheduling boundary
// and surfaced as a failed Result so the waiter unblocks.
func (r *Router) dispatch(ctx context.Context, kind model.CommandKind, params any, task func(*Token)) (model.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now().UTC()
	token := r.signal.Arm()
	wrapped := func() {
		defer func() {
			if rec := recover(); rec != nil {
				token.Complete(model.Result{Detail: fmt.Sprintf("panic: %v", rec)})
			}
		}()
		task(token)
	}
	if err := r.exec.Submit(wrapped); err != nil {
		r.record(ctx, kind, params, model.ResultRejected, nil, start, time.Now().UTC())
		return model.Result{}, fmt.Errorf("submit %s: %w", kind, err)
	}

	res, ok := r.signal.Wait(r.timeout)
	end := time.Now().UTC()
	if !ok {
		r.record(ctx, kind, params, model.ResultTimeout, nil, start, end)
		return model.Result{}, ErrTimeout
	}

	code := model.ResultOK
	if !res.OK {
		code = model.ResultFailed
	}
	var exitCode *int
	if kind == model.CommandRunModule {
		v := res.Code
		exitCode = &v
	}
	r.record(ctx, kind, params, code, exitCode, start, end)
	return res, nil
}

func (r *Router) record(ctx context.Context, kind model.CommandKind, params any, code string, exitCode *int, start, end time.Time) {
	if r.store == nil || kind == model.CommandSnapshot {
		return
	}
	paramsJSON := ""
	if params != nil {
		if raw, err := json.Marshal(params); err == nil {
			paramsJSON = string(raw)
		}
	}
	completed := end
	_ = r.store.InsertCommand(ctx, model.CommandRecord{
		CommandID:   uuid.NewString(),
		Kind:        kind,
		ParamsJSON:  paramsJSON,
		ResultCode:  code,
		ExitCode:    exitCode,
		RequestedAt: start,
		CompletedAt: &completed,
		DurationMS:  end.Sub(start).Milliseconds(),
	})
}
