package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the number of workers
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        60 * time.Second,
	}
}

// FetchFunc fetches the page with the given zero-based index.
type FetchFunc[T any] func(ctx context.Context, index int) (T, error)

// pageOutcome represents the result of fetching a single page
type pageOutcome[T any] struct {
	index int
	value T
	err   error
}

// BatchFetcher fetches a known number of pages with a worker pool.
type BatchFetcher[T any] struct {
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T any](config Config) *BatchFetcher[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &BatchFetcher[T]{
		config: config,
	}
}

// FetchAll runs fetch for indices 0..count-1 on the worker pool and returns
// the values in index order, whatever order the workers finish in. Failed
// pages leave a zero value in their slot and are reported together in the
// returned error.
func (bf *BatchFetcher[T]) FetchAll(ctx context.Context, name string, count int, fetch FetchFunc[T]) ([]T, error) {
	start := time.Now()
	results := make([]T, count)
	if count <= 0 {
		return results, nil
	}

	workers := bf.config.MaxConcurrency
	if workers > count {
		workers = count
	}

	log.Debug().
		Str("resource", name).
		Int("pages", count).
		Int("workers", workers).
		Msg("Starting parallel page fetch")

	pageQueue := make(chan int, count)
	for i := 0; i < count; i++ {
		pageQueue <- i
	}
	close(pageQueue)

	outcomes := make(chan pageOutcome[T], count)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, fetch, pageQueue, outcomes, &wg, i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var (
		errs    []error
		fetched int
	)
	for outcome := range outcomes {
		if outcome.err != nil {
			log.Warn().
				Err(outcome.err).
				Str("resource", name).
				Int("page", outcome.index).
				Msg("Page fetch failed")
			errs = append(errs, fmt.Errorf("page %d: %w", outcome.index, outcome.err))
			continue
		}
		results[outcome.index] = outcome.value
		fetched++
	}

	if err := ctx.Err(); err != nil {
		return results, err
	}

	log.Debug().
		Str("resource", name).
		Int("pages", fetched).
		Int("total", count).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	if len(errs) > 0 {
		return results, fmt.Errorf("partial data: %d/%d pages: %w", fetched, count, errors.Join(errs...))
	}
	return results, nil
}

// worker processes pages from the queue
func (bf *BatchFetcher[T]) worker(ctx context.Context, fetch FetchFunc[T], pageQueue <-chan int, outcomes chan<- pageOutcome[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for index := range pageQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		value, err := fetch(pageCtx, index)
		cancel()

		outcomes <- pageOutcome[T]{index: index, value: value, err: err}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
