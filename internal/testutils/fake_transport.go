// Package testutils provides an in-memory PeerTransport for exercising the
// connection manager and signaling client without ICE or DTLS.
package testutils

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lobbysignal/internal/core/domain"
	"lobbysignal/internal/core/ports"
)

var ErrTransportClosed = errors.New("fake transport closed")

// FakeNetwork links FakeTransports by the ids embedded in their SDP. All
// callbacks run on one network goroutine, never inside a transport method.
type FakeNetwork struct {
	mu         sync.Mutex
	nextID     int
	transports map[string]*FakeTransport
	order      []*FakeTransport
	offerErr   error
	answerErr  error

	qmu     sync.Mutex
	pending []func()
	running bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewFakeNetwork() *FakeNetwork {
	n := &FakeNetwork{
		transports: make(map[string]*FakeTransport),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go n.loop()
	return n
}

// Close stops callback delivery and waits for the running batch to finish.
func (n *FakeNetwork) Close() {
	n.once.Do(func() { close(n.stop) })
	<-n.done
}

func (n *FakeNetwork) SetOfferError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offerErr = err
}

func (n *FakeNetwork) SetAnswerError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.answerErr = err
}

// Transports returns every transport created so far, oldest first.
func (n *FakeNetwork) Transports() []*FakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*FakeTransport(nil), n.order...)
}

// WaitIdle blocks until no callback is queued or running.
func (n *FakeNetwork) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n.qmu.Lock()
		idle := len(n.pending) == 0 && !n.running
		n.qmu.Unlock()
		if idle {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func (n *FakeNetwork) dispatch(fn func()) {
	n.qmu.Lock()
	n.pending = append(n.pending, fn)
	n.qmu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *FakeNetwork) loop() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case <-n.wake:
		}

		for {
			n.qmu.Lock()
			if len(n.pending) == 0 {
				n.running = false
				n.qmu.Unlock()
				break
			}
			fn := n.pending[0]
			n.pending = n.pending[1:]
			n.running = true
			n.qmu.Unlock()

			fn()
		}
	}
}

// Factory returns a TransportFactory bound to the network.
func (n *FakeNetwork) Factory() *FakeTransportFactory {
	return &FakeTransportFactory{network: n}
}

type FakeTransportFactory struct {
	network *FakeNetwork

	mu  sync.Mutex
	err error
}

var _ ports.TransportFactory = (*FakeTransportFactory)(nil)

func (f *FakeTransportFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeTransportFactory) NewTransport() (ports.PeerTransport, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := f.network
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	t := &FakeTransport{
		network: n,
		id:      fmt.Sprintf("t%d", n.nextID),
		state:   ports.TransportNew,
	}
	n.transports[t.id] = t
	n.order = append(n.order, t)
	return t, nil
}

func (n *FakeNetwork) lookup(id string) *FakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[id]
}

func (n *FakeNetwork) injectedErrors() (offerErr, answerErr error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offerErr, n.answerErr
}

type FakeTransport struct {
	network *FakeNetwork
	id      string

	mu               sync.Mutex
	state            ports.TransportState
	closed           bool
	hasRemote        bool
	remote           *FakeTransport
	channels         []*FakeChannel
	remoteCandidates []domain.ICECandidate

	onCandidate   func(domain.ICECandidate)
	onState       func(ports.TransportState)
	onDataChannel func(ports.DataChannel)
}

var _ ports.PeerTransport = (*FakeTransport)(nil)

func (t *FakeTransport) ID() string { return t.id }

func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// RemoteCandidates returns the candidates applied so far.
func (t *FakeTransport) RemoteCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.remoteCandidates...)
}

func (t *FakeTransport) CreateDataChannel(label string) (ports.DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	ch := &FakeChannel{network: t.network, label: label}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *FakeTransport) OnDataChannel(fn func(ports.DataChannel)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDataChannel = fn
}

func (t *FakeTransport) OnICECandidate(fn func(domain.ICECandidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *FakeTransport) OnConnectionStateChange(fn func(ports.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *FakeTransport) CreateOffer() (domain.SessionDescription, error) {
	if err, _ := t.network.injectedErrors(); err != nil {
		return domain.SessionDescription{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.SessionDescription{}, ErrTransportClosed
	}

	t.gatherLocked()
	return domain.SessionDescription{Type: "offer", SDP: "fake-offer:" + t.id}, nil
}

func (t *FakeTransport) CreateAnswer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	if _, err := t.network.injectedErrors(); err != nil {
		return domain.SessionDescription{}, err
	}

	offerer := t.network.lookup(strings.TrimPrefix(offer.SDP, "fake-offer:"))
	if offer.Type != "offer" || offerer == nil {
		return domain.SessionDescription{}, fmt.Errorf("fake transport: malformed offer %q", offer.SDP)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.SessionDescription{}, ErrTransportClosed
	}

	t.remote = offerer
	t.hasRemote = true
	t.gatherLocked()
	return domain.SessionDescription{Type: "answer", SDP: "fake-answer:" + t.id}, nil
}

// SetRemoteDescription applies an answer; once both sides hold a remote
// description the pair connects.
func (t *FakeTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	answerer := t.network.lookup(strings.TrimPrefix(desc.SDP, "fake-answer:"))
	if desc.Type != "answer" || answerer == nil {
		return fmt.Errorf("fake transport: malformed answer %q", desc.SDP)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.remote = answerer
	t.hasRemote = true
	channels := append([]*FakeChannel(nil), t.channels...)
	t.mu.Unlock()

	answerer.mu.Lock()
	linked := answerer.remote == t && !answerer.closed
	answerer.mu.Unlock()
	if linked {
		t.connect(answerer, channels)
	}
	return nil
}

func (t *FakeTransport) connect(answerer *FakeTransport, channels []*FakeChannel) {
	for _, local := range channels {
		remote := &FakeChannel{network: t.network, label: local.label}
		local.link(remote)

		t.network.dispatch(func() {
			answerer.mu.Lock()
			fn := answerer.onDataChannel
			answerer.mu.Unlock()
			if fn != nil {
				fn(remote)
			}
		})
		t.network.dispatch(local.open)
		t.network.dispatch(remote.open)
	}

	t.setState(ports.TransportConnected)
	answerer.setState(ports.TransportConnected)
}

func (t *FakeTransport) AddICECandidate(candidate domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	t.remoteCandidates = append(t.remoteCandidates, candidate)
	return nil
}

// Fail simulates an ICE failure reported by the transport.
func (t *FakeTransport) Fail() {
	t.setState(ports.TransportFailed)
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	remote := t.remote
	channels := t.channels
	t.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	t.setState(ports.TransportClosed)

	if remote != nil {
		remote.setState(ports.TransportDisconnected)
	}
	return nil
}

func (t *FakeTransport) gatherLocked() {
	candidate := domain.ICECandidate{Candidate: "candidate:fake " + t.id}
	fn := t.onCandidate
	if fn == nil {
		return
	}
	t.network.dispatch(func() { fn(candidate) })
}

func (t *FakeTransport) setState(s ports.TransportState) {
	t.network.dispatch(func() {
		t.mu.Lock()
		if t.state == ports.TransportClosed {
			t.mu.Unlock()
			return
		}
		t.state = s
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
}

// FakeChannel is one end of an in-memory data channel.
type FakeChannel struct {
	network *FakeNetwork
	label   string

	mu        sync.Mutex
	peer      *FakeChannel
	isOpen    bool
	closed    bool
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

var _ ports.DataChannel = (*FakeChannel)(nil)

func (c *FakeChannel) link(peer *FakeChannel) {
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	peer.mu.Lock()
	peer.peer = c
	peer.mu.Unlock()
}

func (c *FakeChannel) open() {
	c.mu.Lock()
	if c.closed || c.isOpen {
		c.mu.Unlock()
		return
	}
	c.isOpen = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *FakeChannel) Label() string { return c.label }

func (c *FakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *FakeChannel) Send(data []byte) error {
	c.mu.Lock()
	peer := c.peer
	open := c.isOpen
	c.mu.Unlock()
	if !open || peer == nil {
		return errors.New("fake channel not open")
	}

	frame := append([]byte(nil), data...)
	c.network.dispatch(func() {
		peer.mu.Lock()
		fn := peer.onMessage
		open := peer.isOpen
		peer.mu.Unlock()
		if open && fn != nil {
			fn(frame)
		}
	})
	return nil
}

func (c *FakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *FakeChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *FakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.isOpen = false
	peer := c.peer
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		c.network.dispatch(fn)
	}
	if peer != nil {
		_ = peer.Close()
	}
	return nil
}
