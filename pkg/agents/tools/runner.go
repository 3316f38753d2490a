package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Result is the outcome of one invocation. Output is always a JSON document.
type Result struct {
	Name   string
	Args   any
	Value  any
	Output string
	Failed bool
}

// Runner is the execution boundary for tools: it never returns an error and
// never lets a panic escape.
type Runner struct {
	// Prefix is prepended to breadcrumb titles, e.g. "[supervisorAgent] ".
	Prefix string
	// Timeout bounds a single invocation when > 0.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (r Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RunNamed looks name up in reg and runs it. Unknown names produce an
// error result.
func (r Runner) RunNamed(ctx context.Context, reg *Registry, name, rawArgs string, ictx Context) Result {
	spec, ok := reg.Lookup(name)
	if !ok {
		r.logger().Warn("unknown tool", "tool", name, "agent", ictx.Agent)
		return errorResult(name, parseArgs(rawArgs), fmt.Sprintf("unknown tool %s", name))
	}
	return r.Run(ctx, spec, rawArgs, ictx)
}

// Run parses rawArgs, emits the call breadcrumb, invokes spec and emits the
// result breadcrumb.
func (r Runner) Run(ctx context.Context, spec Spec, rawArgs string, ictx Context) Result {
	raw, args, parseErr := decodeArgs(rawArgs)

	if !spec.Silent {
		ictx.AddBreadcrumb(r.Prefix+"function call: "+spec.Name, args)
	}

	var res Result
	if parseErr != nil {
		r.logger().Warn("tool arguments are not valid JSON", "tool", spec.Name, "error", parseErr)
		res = errorResult(spec.Name, args, "invalid arguments: "+parseErr.Error())
	} else {
		res = r.invoke(ctx, spec, raw, args, ictx)
	}

	if !spec.Silent {
		ictx.AddBreadcrumb(r.Prefix+"function call result: "+spec.Name, res.Value)
	}
	return res
}

func (r Runner) invoke(ctx context.Context, spec Spec, raw json.RawMessage, args any, ictx Context) (res Result) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger().Error("tool panicked", "tool", spec.Name, "panic", p)
			res = errorResult(spec.Name, args, fmt.Sprintf("tool %s failed: %v", spec.Name, p))
		}
	}()

	start := time.Now()
	value, err := spec.Invoker.Invoke(ctx, raw, ictx)
	if err != nil {
		r.logger().Warn("tool returned error", "tool", spec.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return errorResult(spec.Name, args, err.Error())
	}

	out, err := json.Marshal(value)
	if err != nil {
		return errorResult(spec.Name, args, "result is not serializable: "+err.Error())
	}
	r.logger().Debug("tool finished", "tool", spec.Name, "duration_ms", time.Since(start).Milliseconds())
	return Result{Name: spec.Name, Args: args, Value: value, Output: string(out)}
}

func errorResult(name string, args any, msg string) Result {
	v := map[string]string{"error": msg}
	out, _ := json.Marshal(v)
	return Result{Name: name, Args: args, Value: v, Output: string(out), Failed: true}
}

// decodeArgs treats empty input as {}. On a parse failure args is the raw
// string so breadcrumbs still show what the model sent.
func decodeArgs(rawArgs string) (json.RawMessage, any, error) {
	s := strings.TrimSpace(rawArgs)
	if s == "" {
		s = "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, rawArgs, err
	}
	return json.RawMessage(s), v, nil
}

func parseArgs(rawArgs string) any {
	_, v, _ := decodeArgs(rawArgs)
	return v
}
