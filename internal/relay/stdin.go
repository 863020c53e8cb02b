package relay

import (
	"bufio"
	"context"
	"io"
	"log"

	"github.com/peerwatch/peerwatch/internal/model"
)

// StdinSource reads the same wire envelopes from a piped stream. It is
// simplex: config pushes have nowhere to go, which is fine for replaying
// captured sample traffic.
type StdinSource struct {
	samples chan model.Sample
	cancel  context.CancelFunc
}

// NewStdinSource starts reading envelopes from r until EOF or ctx
// cancellation.
func NewStdinSource(ctx context.Context, r io.Reader) *StdinSource {
	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		samples: make(chan model.Sample, DefaultSampleChannelSize),
		cancel:  cancel,
	}

	go func() {
		defer close(s.samples)
		scanner := bufio.NewScanner(r)
		buf := make([]byte, DefaultMaxLineSize)
		scanner.Buffer(buf, DefaultMaxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			sample, ok, err := DecodeSample(line)
			if err != nil {
				log.Printf("relay: stdin: dropping malformed message: %v", err)
				continue
			}
			if !ok {
				continue
			}
			select {
			case s.samples <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

func (s *StdinSource) Samples() <-chan model.Sample { return s.samples }
func (s *StdinSource) Stop()                        { s.cancel() }
func (s *StdinSource) Name() string                 { return "stdin" }
