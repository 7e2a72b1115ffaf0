package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// pipeConn is one end of an in-process connection pair. Every envelope is
// JSON round-tripped so tests exercise the same serialization boundary as the
// websocket transport.
type pipeConn struct {
	out chan<- []byte
	in  <-chan []byte

	closeOnce sync.Once
	done      chan struct{}
	peerDone  chan struct{}
}

// NewPipe returns two connected Conns. Closing either end fails the other
// end's Receive.
func NewPipe() (Conn, Conn) {
	aToB := make(chan []byte, 16)
	bToA := make(chan []byte, 16)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &pipeConn{out: aToB, in: bToA, done: aDone, peerDone: bDone}
	b := &pipeConn{out: bToA, in: aToB, done: bDone, peerDone: aDone}
	return a, b
}

func (p *pipeConn) Send(env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	select {
	case <-p.done:
		return fmt.Errorf("pipe closed")
	case <-p.peerDone:
		return fmt.Errorf("pipe closed")
	case p.out <- raw:
		return nil
	}
}

func (p *pipeConn) Receive() (Envelope, error) {
	select {
	case <-p.done:
		return Envelope{}, fmt.Errorf("pipe closed")
	case <-p.peerDone:
		return Envelope{}, fmt.Errorf("pipe closed")
	case raw := <-p.in:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
		}
		return env, nil
	}
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
