package notify

import (
	"context"
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

// FilteredSink forwards only the notifications a CEL expression accepts,
// for example `kind == "security_alert" && score > 9000`.
type FilteredSink struct {
	next       notify.Sink
	eval       *cel.Evaluator
	prg        celgo.Program
	expression string
}

// NewFilteredSink compiles expression and wraps next.
func NewFilteredSink(eval *cel.Evaluator, expression string, next notify.Sink) (*FilteredSink, error) {
	prg, err := eval.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("notification filter %q: %w", expression, err)
	}
	return &FilteredSink{next: next, eval: eval, prg: prg, expression: expression}, nil
}

// Emit forwards n when the filter evaluates to true. Evaluation errors are
// returned and n is not forwarded.
func (s *FilteredSink) Emit(ctx context.Context, n notify.Notification) error {
	ok, err := s.eval.Evaluate(ctx, s.prg, n)
	if err != nil {
		return fmt.Errorf("notification filter %q: %w", s.expression, err)
	}
	if !ok {
		return nil
	}
	return s.next.Emit(ctx, n)
}

var _ notify.Sink = (*FilteredSink)(nil)
