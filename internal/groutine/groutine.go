package groutine

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name for pprof and retrievable via GetName.
// If parentCtx is nil, context.Background() is used.
//
//	groutine.Go(ctx, "write-stream-2a37", func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Group tracks named goroutines so an owner can wait for all of them on shutdown.
// A panic in one goroutine is recovered and reported to OnPanic instead of crashing the process.
type Group struct {
	wg sync.WaitGroup

	// OnPanic receives the goroutine name and the recovered value. Nil means ignore.
	OnPanic func(name string, recovered any)
}

// Go starts fn as a tracked, named goroutine.
func (g *Group) Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(parentCtx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil && g.OnPanic != nil {
				g.OnPanic(name, r)
			}
		}()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// PanicError formats a recovered panic value as an error.
func PanicError(name string, recovered any) error {
	return fmt.Errorf("goroutine %s panicked: %v", name, recovered)
}
