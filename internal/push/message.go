package push

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/goccy/go-json"
)

// ProviderContentID is shared by every push delivered by a third-party
// provider; those rows collapse onto one record.
const ProviderContentID = -1

// Extras keys of first-party pushes.
const (
	KeyCampaignID     = "m_cid"
	KeyContentID      = "m_cntid"
	KeyExpiration     = "m_expy"
	KeyCommand        = "m_cmd"
	KeyTitle          = "m_t"
	KeyPrimaryMessage = "m_m"
)

// Commands carried by first-party pushes.
const (
	CommandDoNothing     = 0
	CommandAlertNow      = 1
	CommandAlertLocal    = 2
	CommandAlertBG       = 3
	CommandConfigRefresh = 4
)

const providerExpiration = 24 * time.Hour

type Kind int

const (
	FirstParty Kind = iota + 1
	Provider
)

func (k Kind) String() string {
	switch k {
	case FirstParty:
		return "first-party"
	case Provider:
		return "provider"
	default:
		return "unknown"
	}
}

// Message is an inbound push. The Kind selects the behavior through the
// capability table below.
type Message struct {
	Kind        Kind
	extras      map[string]string
	primaryText string
	deliveredAt int64
}

type capabilities struct {
	id              func(*Message) int32
	redactedPayload func(*Message) map[string]any
	shouldDisplay   func(*Message) bool
	primaryText     func(*Message) string
}

var capabilityTable = map[Kind]capabilities{
	FirstParty: {
		id: func(m *Message) int32 { return m.intExtra(KeyContentID) },
		redactedPayload: func(m *Message) map[string]any {
			return map[string]any{
				"data": map[string]any{
					KeyCampaignID: m.intExtra(KeyCampaignID),
					KeyContentID:  m.intExtra(KeyContentID),
				},
			}
		},
		shouldDisplay: func(m *Message) bool { return m.Command() == CommandAlertNow },
		primaryText:   func(m *Message) string { return m.extras[KeyPrimaryMessage] },
	},
	Provider: {
		id: func(m *Message) int32 { return message.StringHash(m.primaryText) },
		redactedPayload: func(m *Message) map[string]any {
			out := make(map[string]any, len(m.extras))
			for k, v := range m.extras {
				out[k] = v
			}
			return out
		},
		shouldDisplay: func(*Message) bool { return true },
		primaryText:   func(m *Message) string { return m.primaryText },
	},
}

// ParseFirstParty validates a push sent by the platform itself.
func ParseFirstParty(extras map[string]string, now time.Time) (*Message, error) {
	if _, ok := extras[KeyCampaignID]; !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidMessage, KeyCampaignID)
	}
	expiration, err := strconv.ParseInt(extras[KeyExpiration], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s: %v", ErrInvalidMessage, KeyExpiration, err)
	}
	if expiration <= now.UnixMilli() {
		return nil, ErrExpired
	}
	return &Message{Kind: FirstParty, extras: copyExtras(extras)}, nil
}

// IsFirstParty reports whether extras look like a first-party push.
func IsFirstParty(extras map[string]string) bool {
	_, ok := extras[KeyCampaignID]
	return ok
}

// NewProvider wraps a third-party push. The first non-empty value among
// pushKeys becomes the primary text and is removed from the payload.
func NewProvider(extras map[string]string, pushKeys []string) *Message {
	m := &Message{Kind: Provider, extras: copyExtras(extras)}
	for _, key := range pushKeys {
		if text := m.extras[key]; text != "" {
			m.primaryText = text
			delete(m.extras, key)
			break
		}
	}
	return m
}

func (m *Message) caps() capabilities {
	return capabilityTable[m.Kind]
}

// ID identifies the notification for the renderer.
func (m *Message) ID() int32 {
	return m.caps().id(m)
}

// ContentID is the key of the push_messages row.
func (m *Message) ContentID() int32 {
	if m.Kind == Provider {
		return ProviderContentID
	}
	return m.ID()
}

func (m *Message) CampaignID() int32 {
	if m.Kind == Provider {
		return 0
	}
	return m.intExtra(KeyCampaignID)
}

// Expiration in epoch milliseconds. Provider pushes expire a day after now.
func (m *Message) Expiration(now time.Time) int64 {
	if m.Kind == Provider {
		return now.Add(providerExpiration).UnixMilli()
	}
	exp, _ := strconv.ParseInt(m.extras[KeyExpiration], 10, 64)
	return exp
}

func (m *Message) RedactedPayload() map[string]any {
	return m.caps().redactedPayload(m)
}

// RedactedPayloadJSON is the payload as stored in the push_messages table.
func (m *Message) RedactedPayloadJSON() (string, error) {
	b, err := json.Marshal(m.RedactedPayload())
	if err != nil {
		return "", fmt.Errorf("could not encode push payload: %w", err)
	}
	return string(b), nil
}

func (m *Message) ShouldDisplay() bool {
	return m.caps().shouldDisplay(m)
}

func (m *Message) PrimaryText() string {
	return m.caps().primaryText(m)
}

func (m *Message) Command() int {
	c, err := strconv.Atoi(m.extras[KeyCommand])
	if err != nil {
		return CommandDoNothing
	}
	return c
}

func (m *Message) Extras() map[string]string {
	return copyExtras(m.extras)
}

// DeliveredAt is set when the notification is handed to the renderer.
func (m *Message) DeliveredAt() int64 {
	return m.deliveredAt
}

func (m *Message) SetDeliveredAt(ts int64) {
	m.deliveredAt = ts
}

func (m *Message) intExtra(key string) int32 {
	v, err := strconv.ParseInt(m.extras[key], 10, 32)
	if err != nil {
		return 0
	}
	return int32(v)
}

func copyExtras(extras map[string]string) map[string]string {
	out := make(map[string]string, len(extras))
	for k, v := range extras {
		out[k] = v
	}
	return out
}

// Renderer turns a push into a visible notification. Implementations live
// outside the core.
type Renderer interface {
	Render(ctx context.Context, msg *Message) error
}
