package dispatch

import (
	"context"
	"log"
	"sync"

	"github.com/sksarvesh007/gpuflow/internal/queue"
)

// Pool consumes the work queue and runs dispatches concurrently, gated
// by a semaphore. Items whose dispatch fails are not acked so that
// backends with redelivery bring them back.
type Pool struct {
	Queue      queue.Consumer
	Dispatcher *Dispatcher
	Semaphore  chan struct{}
	Wg         sync.WaitGroup
}

func NewPool(q queue.Consumer, d *Dispatcher, maxConcurrency int) *Pool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Pool{
		Queue:      q,
		Dispatcher: d,
		Semaphore:  make(chan struct{}, maxConcurrency),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight
// dispatches to finish so no claim transaction is abandoned mid-item.
func (p *Pool) Run(ctx context.Context) {
	log.Println("dispatcher pool started, waiting for work items...")
	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher pool stopping...")
			p.Wg.Wait()
			return
		default:
			items, err := p.Queue.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				log.Printf("dispatcher pool: receive: %v", err)
				continue
			}

			for _, item := range items {
				p.Wg.Add(1)
				go p.handleItem(ctx, item)
			}
		}
	}
}

func (p *Pool) handleItem(ctx context.Context, item queue.Item) {
	defer p.Wg.Done()

	p.Semaphore <- struct{}{}
	defer func() { <-p.Semaphore }()

	if err := p.Dispatcher.Dispatch(ctx, item.JobID); err != nil {
		log.Printf("dispatcher pool: job %s: %v", item.JobID, err)
		// No ack: redelivery-capable backends will retry the item.
		return
	}
	if err := p.Queue.Ack(ctx, item); err != nil {
		log.Printf("dispatcher pool: ack job %s: %v", item.JobID, err)
	}
}
