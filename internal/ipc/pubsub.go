package ipc

import (
	"container/ring"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mediacore/pipelinecore/internal/media"
)

const (
	defaultHistory   = 100
	defaultRegionMB  = 8
	dialAttempts     = 50
	dialBackoffStart = 100 * time.Millisecond
)

// frameHeader is the metadata carried with every message. It is handed to
// subscribers as a Go value over an in-process channel; it is not encoded
// to bytes, and there is no length prefix or other wire framing. Inline
// payloads (text, json, control) travel in Inline; large payloads
// (audio, video, binary) are written into the backing Region and referenced
// by RegionOffset/RegionLen so the consumer reads out of shared memory
// instead of receiving a copy.
type frameHeader struct {
	Kind         media.Kind        `json:"kind"`
	Sequence     *int64            `json:"sequence,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Inline       json.RawMessage   `json:"inline,omitempty"`
	RegionOffset int               `json:"region_offset,omitempty"`
	RegionLen    int               `json:"region_len,omitempty"`
}

// BackpressureMode selects what a Publisher does when a subscriber's lag
// exceeds its buffer.
type BackpressureMode string

const (
	// BackpressureBlock makes Publish wait for the slow subscriber (used in
	// streaming mode, where no data may be lost).
	BackpressureBlock BackpressureMode = "block"
	// BackpressureDropOldest discards the subscriber's oldest unread frame
	// to make room (real-time mode, where freshness beats completeness).
	BackpressureDropOldest BackpressureMode = "drop_oldest"
)

// Publisher is the router-side handle for one data-plane channel. It owns
// the backing Region and fans each published envelope out to every
// subscriber attached at publish time, keeping a history ring so a
// subscriber that attaches late still sees recent messages.
type Publisher struct {
	name    string
	region  *Region
	history int
	mode    BackpressureMode

	mu   sync.Mutex
	ring *ring.Ring // of *frameHeader, capacity == history
	subs []*Subscriber
	seq  int64
}

// PublisherOption configures NewPublisher.
type PublisherOption func(*Publisher)

// WithHistory overrides the default history/backlog depth (100).
func WithHistory(n int) PublisherOption {
	return func(p *Publisher) { p.history = n }
}

// WithBackpressure selects block or drop-oldest semantics for slow
// subscribers.
func WithBackpressure(mode BackpressureMode) PublisherOption {
	return func(p *Publisher) { p.mode = mode }
}

// NewPublisher opens-or-creates the named region and returns a ready
// Publisher. This is always called router-side; workers Dial instead.
func NewPublisher(name string, opts ...PublisherOption) (*Publisher, error) {
	region, err := OpenOrCreate(name, defaultRegionMB<<20)
	if err != nil {
		return nil, err
	}
	p := &Publisher{name: name, region: region, history: defaultHistory, mode: BackpressureBlock}
	for _, opt := range opts {
		opt(p)
	}
	p.ring = ring.New(p.history)
	return p, nil
}

// Subscribe attaches a new subscriber, seeding it with up to `history`
// recent frames so a late attach does not lose context.
func (p *Publisher) Subscribe(bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = p.history
	}
	sub := &Subscriber{
		region: p.region,
		ch:     make(chan *frameHeader, bufferSize),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.Do(func(v any) {
		if v == nil {
			return
		}
		select {
		case sub.ch <- v.(*frameHeader):
		default:
		}
	})
	p.subs = append(p.subs, sub)
	return sub
}

// Publish writes env's payload into the region (for out-of-band kinds) or
// inline (for small kinds), then fans the resulting frame out to every
// subscriber, honoring backpressure mode per subscriber.
func (p *Publisher) Publish(env *media.Envelope) error {
	hdr, err := p.frame(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.ring.Value = hdr
	p.ring = p.ring.Next()
	subs := append([]*Subscriber(nil), p.subs...)
	p.mu.Unlock()

	for _, sub := range subs {
		p.deliver(sub, hdr)
	}
	return nil
}

func (p *Publisher) deliver(sub *Subscriber, hdr *frameHeader) {
	switch p.mode {
	case BackpressureDropOldest:
		select {
		case sub.ch <- hdr:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- hdr:
			default:
			}
		}
	default:
		sub.ch <- hdr
	}
}

func (p *Publisher) frame(env *media.Envelope) (*frameHeader, error) {
	hdr := &frameHeader{Kind: env.Payload.Kind, Sequence: env.Sequence, Metadata: env.Metadata}

	switch env.Payload.Kind {
	case media.KindAudio:
		raw := env.Payload.Audio.Bytes
		offset, err := p.region.Write(raw)
		if err != nil {
			return nil, err
		}
		hdr.RegionOffset, hdr.RegionLen = offset, len(raw)
		meta, err := json.Marshal(audioMeta{
			SampleRate: env.Payload.Audio.SampleRate,
			Channels:   env.Payload.Audio.Channels,
			Format:     env.Payload.Audio.Format,
			NumSamples: env.Payload.Audio.NumSamples,
		})
		if err != nil {
			return nil, err
		}
		hdr.Inline = meta
	case media.KindVideo:
		raw := env.Payload.Video.Bytes
		offset, err := p.region.Write(raw)
		if err != nil {
			return nil, err
		}
		hdr.RegionOffset, hdr.RegionLen = offset, len(raw)
	case media.KindBinary:
		raw := env.Payload.Binary.Bytes
		offset, err := p.region.Write(raw)
		if err != nil {
			return nil, err
		}
		hdr.RegionOffset, hdr.RegionLen = offset, len(raw)
	default:
		inline, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("ipc: marshal inline payload: %w", err)
		}
		hdr.Inline = inline
	}
	return hdr, nil
}

type audioMeta struct {
	SampleRate int               `json:"sample_rate"`
	Channels   int               `json:"channels"`
	Format     media.SampleFormat `json:"format"`
	NumSamples int               `json:"num_samples"`
}

// Close unmaps the backing region. It does not delete the backing file.
func (p *Publisher) Close() error {
	return p.region.Close()
}

// Subscriber is a consumer-side handle attached to a Publisher. Subscribers
// read payloads directly out of the shared region rather than receiving
// copies over the channel, which only carries frame metadata.
type Subscriber struct {
	region *Region
	ch     chan *frameHeader
}

// Recv blocks for the next frame, decoding it back into an Envelope. It
// returns an error if done is closed first.
func (s *Subscriber) Recv(done <-chan struct{}) (*media.Envelope, error) {
	select {
	case hdr := <-s.ch:
		return s.decode(hdr)
	case <-done:
		return nil, fmt.Errorf("ipc: subscriber cancelled")
	}
}

func (s *Subscriber) decode(hdr *frameHeader) (*media.Envelope, error) {
	env := &media.Envelope{Sequence: hdr.Sequence, Metadata: hdr.Metadata}
	switch hdr.Kind {
	case media.KindAudio:
		var am audioMeta
		if err := json.Unmarshal(hdr.Inline, &am); err != nil {
			return nil, fmt.Errorf("ipc: decode audio header: %w", err)
		}
		bytes, err := s.region.ReadAt(hdr.RegionOffset, hdr.RegionLen)
		if err != nil {
			return nil, err
		}
		env.Payload = media.Buffer{Kind: media.KindAudio, Audio: &media.Audio{
			Bytes: bytes, SampleRate: am.SampleRate, Channels: am.Channels,
			Format: am.Format, NumSamples: am.NumSamples,
		}}
	case media.KindVideo, media.KindBinary:
		bytes, err := s.region.ReadAt(hdr.RegionOffset, hdr.RegionLen)
		if err != nil {
			return nil, err
		}
		if hdr.Kind == media.KindVideo {
			env.Payload = media.Buffer{Kind: media.KindVideo, Video: &media.VideoFrame{Bytes: bytes}}
		} else {
			env.Payload = media.Buffer{Kind: media.KindBinary, Binary: &media.Binary{Bytes: bytes}}
		}
	default:
		if err := json.Unmarshal(hdr.Inline, &env.Payload); err != nil {
			return nil, fmt.Errorf("ipc: decode inline payload: %w", err)
		}
	}
	return env, nil
}

// Dial opens an existing region with bounded exponential backoff, for the
// worker side of the creation-ordering race: the router always creates
// first, but a worker may start before the router has. The wait starts at
// dialBackoffStart and doubles after each failed attempt, capped at one
// second. Giving up after dialAttempts surfaces as NodeInitFailed to the
// caller.
func Dial(name string) (*Region, error) {
	const dialBackoffMax = time.Second
	backoff := dialBackoffStart
	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		r, err := Open(name, defaultRegionMB<<20)
		if err == nil {
			return r, nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff *= 2; backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
	return nil, &media.Error{
		Kind:    media.ErrNodeInitFailed,
		Message: fmt.Sprintf("ipc: dial %q failed after %d attempts: %v", name, dialAttempts, lastErr),
		Cause:   lastErr,
	}
}
