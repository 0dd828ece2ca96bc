package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// tickerLoop runs tick immediately and then every interval until stopped
type tickerLoop struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (l *tickerLoop) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("%s is already running", l.name)
	}
	if l.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", l.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(runCtx, l.done)
	return nil
}

func (l *tickerLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// stop cancels the loop and waits for the running tick to return
func (l *tickerLoop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.cancel()
	done := l.done
	l.mu.Unlock()

	<-done
}
