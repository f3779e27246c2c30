package refresh

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultQueueSize = 256

// Intent asks for one record to be refreshed.
type Intent struct {
	MarketName string
	Need       Need
}

// Queue hands refresh intents from the request path to a single worker. A
// name waits in the queue at most once; later intents for it merge into the
// pending one.
type Queue struct {
	names chan string

	mu      sync.Mutex
	pending map[string]Need
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		names:   make(chan string, size),
		pending: make(map[string]Need),
	}
}

// Enqueue never blocks. It returns false and drops the intent when the queue
// is full; the background loop will pick the record up later.
func (q *Queue) Enqueue(intent Intent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if need, ok := q.pending[intent.MarketName]; ok {
		q.pending[intent.MarketName] = Need{
			Image: need.Image || intent.Need.Image,
			Price: need.Price || intent.Need.Price,
		}
		return true
	}

	select {
	case q.names <- intent.MarketName:
		q.pending[intent.MarketName] = intent.Need
		return true
	default:
		log.Warn().Str("market_name", intent.MarketName).Msg("Refresh queue full, dropping intent")
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.names)
}

func (q *Queue) take(name string) Need {
	q.mu.Lock()
	defer q.mu.Unlock()
	need := q.pending[name]
	delete(q.pending, name)
	return need
}

// Run consumes intents until ctx is done. Each intent is checked against the
// store first, so work already done by a cycle is not repeated.
func (q *Queue) Run(ctx context.Context, r *Refresher) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-q.names:
			need := r.StillNeeded(ctx, name, q.take(name))
			if !need.Any() {
				log.Debug().Str("market_name", name).Msg("Queued refresh no longer needed")
				continue
			}
			outcome := r.RefreshOne(ctx, name, need)
			if outcome.ImageErr != nil || outcome.PriceErr != nil {
				log.Debug().
					Str("market_name", name).
					AnErr("image_error", outcome.ImageErr).
					AnErr("price_error", outcome.PriceErr).
					Msg("Queued refresh finished with errors")
			}
		}
	}
}
