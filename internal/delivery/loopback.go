package delivery

import (
	"context"
	"time"

	"github.com/luzzy/message-sync/pkg/logger"
)

const (
	singleSegmentRunes = 160
	multiSegmentRunes  = 153
)

// LoopbackConfig tunes the simulated telephony layer.
type LoopbackConfig struct {
	// Subscriptions advertised by the fake modem. Empty means one SIM in
	// slot 0 with id 1.
	Subscriptions []Subscription
	// DefaultSubID is the system default SIM id.
	DefaultSubID int
	// SegmentLatency is the simulated per-segment round trip.
	SegmentLatency time.Duration
	// OnReceive, when set, is invoked with every accepted operation so a
	// dev deployment can wire echo behavior.
	OnReceive func(destination, body string)
}

// Loopback is a transport without a radio behind it: every submitted
// segment is reported sent and, when requested, delivered. It backs dev
// and test deployments where no real telephony stack exists.
type Loopback struct {
	cfg LoopbackConfig
}

func NewLoopback(cfg LoopbackConfig) *Loopback {
	if len(cfg.Subscriptions) == 0 {
		cfg.Subscriptions = []Subscription{{Index: 0, ID: 1, Label: "SIM 1"}}
	}
	if cfg.DefaultSubID == 0 {
		cfg.DefaultSubID = cfg.Subscriptions[0].ID
	}
	return &Loopback{cfg: cfg}
}

// DivideMessage splits by GSM-7 segment accounting: one segment up to 160
// characters, 153 per segment once the body needs concatenation headers.
func (l *Loopback) DivideMessage(body string) []string {
	runes := []rune(body)
	if len(runes) <= singleSegmentRunes {
		return []string{body}
	}
	var segments []string
	for len(runes) > 0 {
		n := multiSegmentRunes
		if len(runes) < n {
			n = len(runes)
		}
		segments = append(segments, string(runes[:n]))
		runes = runes[n:]
	}
	return segments
}

func (l *Loopback) SendMultipart(ctx context.Context, req MultipartRequest) (<-chan SegmentEvent, error) {
	total := len(req.Segments)
	events := make(chan SegmentEvent, total+1)

	go func() {
		defer close(events)
		for i := 0; i < total; i++ {
			if l.cfg.SegmentLatency > 0 {
				time.Sleep(l.cfg.SegmentLatency)
			}
			events <- SegmentEvent{Segment: i, Segments: total, Kind: EventSent}
		}
		if req.RequireDeliveryReport {
			events <- SegmentEvent{Segment: total - 1, Segments: total, Kind: EventDelivered}
		}
		if l.cfg.OnReceive != nil {
			l.cfg.OnReceive(req.Destination, joinSegments(req.Segments))
		}
	}()

	logger.Debug("loopback multipart accepted", "destination", req.Destination, "segments", total)
	return events, nil
}

func (l *Loopback) SendAttachment(ctx context.Context, req AttachmentRequest) (<-chan SegmentEvent, error) {
	events := make(chan SegmentEvent, 2)

	go func() {
		defer close(events)
		if l.cfg.SegmentLatency > 0 {
			time.Sleep(l.cfg.SegmentLatency)
		}
		events <- SegmentEvent{Segment: 0, Segments: 1, Kind: EventSent}
		events <- SegmentEvent{Segment: 0, Segments: 1, Kind: EventDelivered}
		if l.cfg.OnReceive != nil {
			for _, dest := range req.Destinations {
				l.cfg.OnReceive(dest, req.Body)
			}
		}
	}()

	logger.Debug("loopback attachment accepted", "destinations", req.Destinations)
	return events, nil
}

func (l *Loopback) Subscriptions() []Subscription { return l.cfg.Subscriptions }

func (l *Loopback) DefaultSubscription() int { return l.cfg.DefaultSubID }

func joinSegments(segments []string) string {
	var body string
	for _, s := range segments {
		body += s
	}
	return body
}
