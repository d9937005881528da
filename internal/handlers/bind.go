package handlers

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/go-viper/mapstructure/v2"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// TargetedFunc and BroadcastFunc are the dispatch-table value types: plain
// functions over a decoded, typed argument struct rather than the raw
// method_kwargs map. BroadcastFunc is an alias, not a distinct defined type,
// so a single Bind[T] can produce values for either dispatch table.
type TargetedFunc func(ctx context.Context, env *model.Envelope) (any, error)
type BroadcastFunc = TargetedFunc

// Typed[T] is a handler written against a decoded argument struct.
type Typed[T any] func(ctx context.Context, env *model.Envelope, args *T) (any, error)

// Bind decodes env.MethodKwargs into *T and calls fn, recovering any panic
// into an error so one bad handler can't take down the router's goroutine.
// This generalizes the teacher's Bind[T]/DomainHandler[T] pair
// (internal/handler/amqp/bind.go) from "decode a JSON message body" to
// "decode an envelope's method_kwargs".
func Bind[T any](fn Typed[T]) TargetedFunc {
	return func(ctx context.Context, env *model.Envelope) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handlers: panic in %s: %v\n%s", env.MethodName, r, debug.Stack())
			}
		}()
		args := new(T)
		if len(env.MethodKwargs) > 0 {
			if decErr := mapstructure.Decode(env.MethodKwargs, args); decErr != nil {
				return nil, fmt.Errorf("handlers: decode %s args: %w", env.MethodName, decErr)
			}
		}
		return fn(ctx, env, args)
	}
}
