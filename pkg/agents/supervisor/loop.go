// Package supervisor drives the request/response tool-calling loop against
// the Responses API: send the running input, execute any function calls the
// model asks for, append call and output pairs, and repeat until the model
// answers in plain text.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

const (
	DefaultMaxRounds    = 10
	DefaultRoundTimeout = 30 * time.Second

	// FailureMessage is returned to the calling agent when a loop fails.
	FailureMessage = "Something went wrong."
)

var (
	// ErrBackend wraps transport failures and response-level errors. It is
	// terminal: the loop never retries.
	ErrBackend = errors.New("supervisor: backend request failed")
	// ErrMaxRounds is returned when the model keeps issuing calls past MaxRounds.
	ErrMaxRounds = errors.New("supervisor: too many tool-call rounds")
)

// Loop holds configuration only; each Run keeps its own request state, so
// one Loop may serve concurrent runs.
type Loop struct {
	Client responses.Creator
	Tools  *tools.Registry
	Runner tools.Runner

	MaxRounds    int
	RoundTimeout time.Duration
	Logger       *slog.Logger
}

// Result describes a finished run.
type Result struct {
	Text   string
	Rounds int
	Calls  []tools.Result
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Run executes the loop starting from req. req is copied; the caller's
// Input slice is never appended to.
func (l *Loop) Run(ctx context.Context, req *responses.Request, ictx tools.Context) (Result, error) {
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	roundTimeout := l.RoundTimeout
	if roundTimeout == 0 {
		roundTimeout = DefaultRoundTimeout
	}

	body := *req
	body.Input = append([]responses.InputItem(nil), req.Input...)
	body.Tools = append(FunctionTools(l.Tools), req.Tools...)
	parallel := false
	body.ParallelToolCalls = &parallel

	var res Result
	for round := 1; round <= maxRounds; round++ {
		res.Rounds = round
		resp, err := l.send(ctx, &body, roundTimeout)
		if err != nil {
			l.logger().Warn("supervisor round failed", "round", round, "model", body.Model, "error", err)
			return res, fmt.Errorf("%w: %w", ErrBackend, err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			res.Text = resp.Text()
			return res, nil
		}

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			out := l.Runner.RunNamed(ctx, l.Tools, call.Name, call.Arguments, ictx)
			res.Calls = append(res.Calls, out)
			body.Input = append(body.Input,
				responses.FunctionCall(call.CallID, call.Name, call.Arguments),
				responses.FunctionCallOutput(call.CallID, out.Output),
			)
		}
	}

	l.logger().Warn("supervisor exceeded max rounds", "max_rounds", maxRounds, "model", body.Model)
	return res, ErrMaxRounds
}

func (l *Loop) send(ctx context.Context, body *responses.Request, timeout time.Duration) (*responses.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.Client.Create(ctx, body)
}

// FunctionTools renders the registry as Responses API function tools.
func FunctionTools(reg *tools.Registry) []responses.Tool {
	specs := reg.Specs()
	out := make([]responses.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, responses.Tool{
			Type:        "function",
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return out
}
