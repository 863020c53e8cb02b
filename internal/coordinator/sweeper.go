package coordinator

import (
	"context"
	"sync"
	"time"
)

// Sweeper drives Coordinator.Sweep on a fixed wall-clock period, independent
// of any per-connection timer.
type Sweeper struct {
	coord    *Coordinator
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper starts the periodic sweep loop. An immediate startup sweep
// catches up after downtime.
func NewSweeper(coord *Coordinator) *Sweeper {
	s := &Sweeper{
		coord: coord,
		done:  make(chan struct{}),
	}

	coord.Sweep(context.Background())

	s.wg.Add(1)
	go s.tickLoop()
	return s
}

func (s *Sweeper) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.coord.CleanupPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.coord.Sweep(context.Background())
		case <-s.done:
			return
		}
	}
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
