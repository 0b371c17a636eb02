// Package ingest receives tracked-object batches from the external
// detection/tracking pipeline over UDP and feeds them through the zone
// counter.
//
// Each datagram carries one JSON batch of observations for a single
// timestamp. Malformed datagrams are counted and dropped; the feed must
// survive a misbehaving tracker without interrupting counting.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/monitoring"
)

// maxDatagramSize bounds one observation batch on the wire.
const maxDatagramSize = 65536

// Batch is the wire shape of one tracker datagram.
type Batch struct {
	Observations []counts.TrackedObservation `json:"observations"`
}

// Counter turns an observation batch into a snapshot. *counts.ZoneCounter
// implements this.
type Counter interface {
	ProcessBatch(observations []counts.TrackedObservation) *counts.CountSnapshot
}

// Stats tracks listener throughput, logged periodically.
type Stats struct {
	batches   atomic.Int64
	malformed atomic.Int64
	bytes     atomic.Int64
}

// Listener receives tracker batches over UDP and publishes the resulting
// snapshots.
type Listener struct {
	address     string
	counter     Counter
	publisher   counts.Publisher
	logInterval time.Duration
	stats       Stats
	localAddr   atomic.Pointer[net.UDPAddr]
}

// ListenerConfig contains configuration options for the UDP listener.
type ListenerConfig struct {
	Address     string
	Counter     Counter
	Publisher   counts.Publisher
	LogInterval time.Duration
}

// NewListener creates a listener with the provided configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logInterval := cfg.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &Listener{
		address:     cfg.Address,
		counter:     cfg.Counter,
		publisher:   cfg.Publisher,
		logInterval: logInterval,
	}
}

// Addr returns the bound UDP address, or nil before Start has bound it.
// Useful when listening on port 0.
func (l *Listener) Addr() *net.UDPAddr {
	return l.localAddr.Load()
}

// Start listens for tracker datagrams until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	l.localAddr.Store(conn.LocalAddr().(*net.UDPAddr))
	monitoring.Logf("ingest: listening for tracker batches on %s", conn.LocalAddr())

	go l.statsLoop(ctx)

	buffer := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("ingest: listener stopping")
			return ctx.Err()
		default:
			// Short read deadline so context cancellation is noticed.
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, src, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("ingest: read error: %v", err)
				continue
			}

			if err := l.handleDatagram(buffer[:n]); err != nil {
				l.stats.malformed.Add(1)
				monitoring.Logf("ingest: dropping datagram from %v: %v", src, err)
			}
		}
	}
}

func (l *Listener) handleDatagram(data []byte) error {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("invalid batch JSON: %w", err)
	}

	l.stats.batches.Add(1)
	l.stats.bytes.Add(int64(len(data)))

	// An empty batch still produces a snapshot: zero detections this frame
	// is data, and publishing keeps the feed fresh.
	snap := l.counter.ProcessBatch(batch.Observations)
	l.publisher.Publish(snap)
	return nil
}

func (l *Listener) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitoring.Logf("ingest: %d batches (%d bytes), %d malformed",
				l.stats.batches.Load(), l.stats.bytes.Load(), l.stats.malformed.Load())
		}
	}
}
