// Package relay carries stats samples from browser-side producers into the
// daemon and configuration snapshots back out, over a persistent duplex
// channel of newline-delimited JSON.
package relay

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/peerwatch/peerwatch/internal/model"
)

const (
	// DefaultSampleChannelSize buffers decoded samples between the relay
	// and the coordinator loop.
	DefaultSampleChannelSize = 10_000

	// DefaultMaxLineSize caps one wire line. Stats reports for a busy
	// connection run a few hundred KB at most.
	DefaultMaxLineSize = 1024 * 1024
)

// Source is one producer boundary feeding normalized samples to the
// coordinator.
type Source interface {
	Samples() <-chan model.Sample
	Stop()
	Name() string
}

// ServerConfig holds tunable parameters for the relay server.
type ServerConfig struct {
	SampleChannelSize int
	MaxLineSize       int
}

// Server accepts persistent producer connections. Each connection carries
// samples daemon-ward; config pushes are broadcast producer-ward on the same
// connection. A severed connection drops in-flight messages silently — the
// producer's next tick re-sends fresh data, so the pipeline self-heals at
// sample granularity.
type Server struct {
	listener    net.Listener
	addr        string
	samples     chan model.Sample
	maxLineSize int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu      sync.Mutex
	clients map[net.Conn]*clientWriter
	config  *model.ConfigPush
}

type clientWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewServer creates a relay server. Default addr is "127.0.0.1:4580".
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4580"
	}
	channelSize := DefaultSampleChannelSize
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 {
		if conf[0].SampleChannelSize > 0 {
			channelSize = conf[0].SampleChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		samples:     make(chan model.Sample, channelSize),
		maxLineSize: maxLineSize,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[net.Conn]*clientWriter),
	}
}

// Start begins accepting producer connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.dropClient(conn)

	writer := &clientWriter{conn: conn}
	s.mu.Lock()
	s.clients[conn] = writer
	snapshot := s.config
	s.mu.Unlock()

	// New producers receive the current config before anything else.
	if snapshot != nil {
		s.writeConfig(writer, *snapshot)
	}

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, s.maxLineSize)
	scanner.Buffer(buf, s.maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sample, ok, err := DecodeSample(line)
		if err != nil {
			log.Printf("relay: dropping malformed message from %s: %v", conn.RemoteAddr(), err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case s.samples <- sample:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Printf("relay: dropped connection %s, line exceeded %d bytes", conn.RemoteAddr(), s.maxLineSize)
			return
		}
		log.Printf("relay: read error from %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) dropClient(conn net.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Broadcast pushes a config snapshot to every connected producer and stores
// it for producers that connect later. Write failures mean the far end went
// away; the message is dropped, never escalated.
func (s *Server) Broadcast(cfg model.ConfigPush) {
	s.mu.Lock()
	s.config = &cfg
	writers := make([]*clientWriter, 0, len(s.clients))
	for _, w := range s.clients {
		writers = append(writers, w)
	}
	s.mu.Unlock()

	for _, w := range writers {
		s.writeConfig(w, cfg)
	}
}

func (s *Server) writeConfig(w *clientWriter, cfg model.ConfigPush) {
	line, err := EncodeConfig(cfg)
	if err != nil {
		log.Printf("relay: encoding config push: %v", err)
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	_, err = w.conn.Write(line)
	w.mu.Unlock()
	if err != nil {
		log.Printf("relay: config push to %s failed: %v", w.conn.RemoteAddr(), err)
	}
}

// ClientCount returns the number of connected producers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop gracefully shuts down the relay server.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.samples)
}

// Samples returns the channel of normalized samples.
func (s *Server) Samples() <-chan model.Sample {
	return s.samples
}

// Name identifies this source in logs and the mux.
func (s *Server) Name() string { return "tcp" }

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
