package usecase

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

// FusionStream carries the progress of a running fusion step and its single
// final result. Progress is closed before Wait returns.
type FusionStream[T any] struct {
	progress chan domain.Progress
	done     chan struct{}
	result   T
	err      error
}

type emitFunc func(domain.Progress)

func startFusion[T any](ctx context.Context, run func(ctx context.Context, emit emitFunc) (T, error)) *FusionStream[T] {
	s := &FusionStream[T]{
		progress: make(chan domain.Progress, 8),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		emit := func(p domain.Progress) {
			select {
			case s.progress <- p:
			case <-ctx.Done():
			}
		}
		s.result, s.err = run(ctx, emit)
		close(s.progress)
	}()
	return s
}

func (s *FusionStream[T]) Progress() <-chan domain.Progress {
	return s.progress
}

// Wait drains unread progress and returns the final result.
func (s *FusionStream[T]) Wait() (T, error) {
	for range s.progress {
	}
	<-s.done
	return s.result, s.err
}

// Forward hands every progress notification to fn, then returns the result.
func (s *FusionStream[T]) Forward(fn func(domain.Progress)) (T, error) {
	for p := range s.progress {
		fn(p)
	}
	<-s.done
	return s.result, s.err
}

// fanOut runs one task per (query, source) pair. Results are slotted by
// query index then source index, so the order is independent of completion.
// The first error cancels the remaining tasks.
func fanOut[T any](ctx context.Context, queries []string, sources, limit int, task func(ctx context.Context, query string, source int) (T, error)) ([]T, error) {
	results := make([]T, len(queries)*sources)
	eg, gCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for qi, query := range queries {
		for si := 0; si < sources; si++ {
			slot := qi*sources + si
			query, si := query, si
			eg.Go(func() error {
				res, err := task(gCtx, query, si)
				if err != nil {
					return err
				}
				results[slot] = res
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func subQueries(ctx context.Context, decomposer decomposeFunc, query string) []string {
	if decomposer == nil {
		return []string{query}
	}
	queries, err := decomposer(ctx, query)
	if err != nil {
		logDecomposeFailure(query, err)
		return []string{query}
	}
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return []string{query}
	}
	return out
}

type decomposeFunc func(ctx context.Context, query string) ([]string, error)
