package mqtt

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"panocompass/internal/orientation"
)

// HeadingPublisher publishes heading snapshots as retained JSON, at most once
// per MinInterval of heading time. Headings arriving inside the interval are
// skipped.
type HeadingPublisher struct {
	Conn        Conn
	Topic       string
	MinInterval time.Duration

	now func() time.Time
}

type headingMessage struct {
	HeadingDeg float64 `json:"heading_deg"`
	Accuracy   float64 `json:"accuracy"`
	Source     string  `json:"source"`
	UpdatedUTC string  `json:"updated_utc"`
}

func encodeHeading(h orientation.Heading) ([]byte, error) {
	return json.Marshal(headingMessage{
		HeadingDeg: h.Degrees,
		Accuracy:   h.Accuracy,
		Source:     h.Source.String(),
		UpdatedUTC: h.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Run publishes headings received on updates until ctx ends or updates is
// closed.
func (p *HeadingPublisher) Run(ctx context.Context, updates <-chan orientation.Heading) error {
	if p.now == nil {
		p.now = time.Now
	}
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case h, ok := <-updates:
			if !ok {
				return nil
			}
			now := h.UpdatedAt
			if now.IsZero() {
				now = p.now()
			}
			if !last.IsZero() && now.Sub(last) < p.MinInterval {
				continue
			}
			b, err := encodeHeading(h)
			if err != nil {
				log.Printf("mqtt: encode heading: %v", err)
				continue
			}
			if err := p.Conn.Publish(p.Topic, true, b); err != nil {
				log.Printf("mqtt: %v", err)
				continue
			}
			last = now
		}
	}
}
