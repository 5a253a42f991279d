package brief

import (
	"context"
	"runtime"
)

// workerPool bounds concurrent embedding and generation work. Saturated
// requests queue on acquire rather than being rejected.
type workerPool struct {
	slots chan struct{}
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &workerPool{slots: make(chan struct{}, size)}
}

func (p *workerPool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *workerPool) release() {
	<-p.slots
}
