// Package kpubsub implements a simple, in-process publish/subscribe
// mechanism for the boot settings (scheduler mode, timer frequency,
// time slice) that the command line and the boot sequencer hand
// to kernel subsystems. A single producer feeds a named stream; any
// number of consumers can fork the stream and will first receive the
// most recently published value for every setting name, then every
// subsequent update.
package kpubsub

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrStreamExists      = errors.New("kpubsub: stream already exists")
	ErrStreamDoesntExist = errors.New("kpubsub: stream does not exist")
	ErrNeedNonNilChannel = errors.New("kpubsub: a non-nil channel must be supplied")
	ErrStreamShutDown    = errors.New("kpubsub: publisher has been shut down")
)

// Setting is a single named, typed configuration value broadcast on a stream.
type Setting interface {
	Name() string
	Description() string
	Value() interface{}
	String() string
}

type setting struct {
	name, desc, typ string
	value           interface{}
}

func (s *setting) Name() string        { return s.name }
func (s *setting) Description() string { return s.desc }
func (s *setting) Value() interface{}  { return s.value }
func (s *setting) String() string {
	return fmt.Sprintf("%s: %s: (%s: %v)", s.name, s.desc, s.typ, s.value)
}

// NewString creates a Setting with a string value.
func NewString(name, desc, value string) Setting {
	return &setting{name, desc, "string", value}
}

// NewInt creates a Setting with an int value.
func NewInt(name, desc string, value int) Setting {
	return &setting{name, desc, "int", value}
}

// NewFloat64 creates a Setting with a float64 value.
func NewFloat64(name, desc string, value float64) Setting {
	return &setting{name, desc, "float64", value}
}

// Stream is a snapshot of a named stream: its description, and the most
// recently published Setting for each name seen so far.
type Stream struct {
	Name        string
	Description string
	Latest      map[string]Setting
}

type streamState struct {
	desc   string
	latest map[string]Setting
	forks  []chan Setting
	stop   chan struct{}
	done   bool
}

// Publisher fans the Settings published on a stream out to any number of
// forked consumer channels. Exactly one producer goroutine should feed
// each stream's input channel; Publisher does no buffering of its own
// beyond the latest value seen per setting name.
type Publisher struct {
	mu      sync.Mutex
	streams map[string]*streamState
	order   []string
	down    bool
}

// NewPublisher creates a new Publisher with no streams.
func NewPublisher() *Publisher {
	return &Publisher{streams: make(map[string]*streamState)}
}

// CreateStream creates a new named stream fed by in. The returned channel
// is closed when Shutdown is called; the goroutine producing into in
// should select on it, and close in in response, so that CreateStream's
// internal forwarding goroutine can drain in and close every forked
// channel in turn.
func (p *Publisher) CreateStream(name, desc string, in chan Setting) (chan struct{}, error) {
	if in == nil {
		return nil, ErrNeedNonNilChannel
	}
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return nil, ErrStreamShutDown
	}
	if _, exists := p.streams[name]; exists {
		p.mu.Unlock()
		return nil, ErrStreamExists
	}
	st := &streamState{desc: desc, latest: make(map[string]Setting), stop: make(chan struct{})}
	p.streams[name] = st
	p.order = append(p.order, name)
	p.mu.Unlock()

	go p.forward(st, in)

	return st.stop, nil
}

func (p *Publisher) forward(st *streamState, in chan Setting) {
	for s := range in {
		p.mu.Lock()
		st.latest[s.Name()] = s
		forks := append([]chan Setting(nil), st.forks...)
		p.mu.Unlock()
		for _, f := range forks {
			f <- s
		}
	}
	p.mu.Lock()
	st.done = true
	forks := st.forks
	st.forks = nil
	p.mu.Unlock()
	for _, f := range forks {
		close(f)
	}
}

// ForkStream registers ch to receive every Setting subsequently published
// on the named stream, and returns a snapshot of the stream's current
// state. If the stream has already finished (its producer closed its
// input channel), ch is closed immediately. Passing a nil ch is a valid
// way to read the current snapshot without subscribing.
func (p *Publisher) ForkStream(name string, ch chan Setting) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return nil, ErrStreamShutDown
	}
	st, exists := p.streams[name]
	if !exists {
		return nil, ErrStreamDoesntExist
	}
	if ch != nil {
		if st.done {
			close(ch)
		} else {
			st.forks = append(st.forks, ch)
		}
	}
	return &Stream{Name: name, Description: st.desc, Latest: copyLatest(st.latest)}, nil
}

// Latest returns a snapshot of the named stream's current state, or nil
// if no such stream exists.
func (p *Publisher) Latest(name string) *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, exists := p.streams[name]
	if !exists {
		return nil
	}
	return &Stream{Name: name, Description: st.desc, Latest: copyLatest(st.latest)}
}

func copyLatest(m map[string]Setting) map[string]Setting {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]Setting, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Shutdown closes the stop channel returned by CreateStream for every
// stream, signalling producers to stop and close their input channels.
// Once every stream's forwarding goroutine observes its input channel
// close, its forked channels are closed in turn.
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	p.down = true
	stops := make([]chan struct{}, 0, len(p.streams))
	for _, st := range p.streams {
		stops = append(stops, st.stop)
	}
	p.mu.Unlock()
	for _, s := range stops {
		close(s)
	}
}

// String returns a human readable summary of the streams currently known
// to the Publisher, or "shutdown" once Shutdown has been called.
func (p *Publisher) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return "shutdown"
	}
	var buf bytes.Buffer
	for i, name := range p.order {
		st, ok := p.streams[name]
		if !ok {
			continue
		}
		if i > 0 {
			buf.WriteString(" ")
		}
		fmt.Fprintf(&buf, "(%s: %s)", name, st.desc)
	}
	return buf.String()
}

// DurationFlag is a flag.Value wrapper around time.Duration for command
// line options that take a duration.
type DurationFlag struct {
	Duration time.Duration
}

// Set is part of the flag.Value interface.
func (d *DurationFlag) Set(v string) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// String is part of the flag.Value interface.
func (d *DurationFlag) String() string {
	return d.Duration.String()
}
