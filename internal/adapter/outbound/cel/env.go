package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// stringFields and intFields are the notification variables exposed to
// filter expressions. They mirror notify.Notification.Fields.
var (
	stringFields = []string{"id", "kind", "caller", "user", "role", "action", "contract", "model_version"}
	intFields    = []string{"confidence", "score", "confidence_threshold", "risk_threshold"}
)

// NewNotificationEnvironment creates the CEL environment for notification
// filters. Besides the notification fields and the strings extension it
// offers glob(pattern, s) for shell-style matching, e.g. glob("sell:*", action).
func NewNotificationEnvironment() (*cel.Env, error) {
	opts := []cel.EnvOption{ext.Strings()}
	for _, name := range stringFields {
		opts = append(opts, cel.Variable(name, cel.StringType))
	}
	for _, name := range intFields {
		opts = append(opts, cel.Variable(name, cel.IntType))
	}
	opts = append(opts,
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
	return cel.NewEnv(opts...)
}
