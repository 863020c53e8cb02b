package main

import (
	"context"
	"sync"

	"github.com/peerwatch/peerwatch/internal/model"
	"github.com/peerwatch/peerwatch/internal/relay"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 10_000

// SourceMultiplexer merges multiple sample sources into a single read-only
// stream for the coordinator.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources []relay.Source
	samples chan model.Sample

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []relay.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:     ctx,
		cancel:  cancel,
		sources: sources,
		samples: make(chan model.Sample, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}

		for _, src := range m.sources {
			src := src
			m.wg.Add(1)
			go m.forward(src)
		}

		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

func (m *SourceMultiplexer) Samples() <-chan model.Sample {
	return m.samples
}

func (m *SourceMultiplexer) forward(src relay.Source) {
	defer m.wg.Done()

	sourceSamples := src.Samples()
	for {
		select {
		case <-m.ctx.Done():
			return
		case sample, ok := <-sourceSamples:
			if !ok {
				return
			}
			if sample.ID == "" {
				continue
			}
			select {
			case m.samples <- sample:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.samples)
	})
}
