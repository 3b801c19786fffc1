package policy

import (
	"fmt"
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
)

// Keys of the server configuration document.
const (
	keyTriggerItems        = "tri"
	keyMessageMatches      = "mm"
	keyTriggerHashes       = "evts"
	keyInfluenceOpen       = "pio"
	keyOptOut              = "oo"
	keyUnhandledExceptions = "cue"
	keyPushMessages        = "pmk"
	keyEmbeddedKits        = "eks"
	keyUploadInterval      = "uitl"
	keySessionTimeout      = "stl"
	keyRestrictAAID        = "rdlat"
	keySessionHistory      = "inhd"
	keyRamp                = "rp"
)

// Values of keyUnhandledExceptions.
const (
	ExceptionsAppDefined = "appdefined"
	ExceptionsForceCatch = "forcecatch"
)

const defaultInfluenceOpenTimeout = 30 * time.Minute

// Config is one parsed server configuration document.
type Config struct {
	UnhandledExceptions   string
	PushKeys              []string
	SendOptOutEvents      bool
	SessionTimeout        time.Duration
	UploadInterval        time.Duration
	InfluenceOpenTimeout  time.Duration
	MessageMatches        []*message.Message
	TriggerHashes         []int32
	RestrictAAIDFromLAT   bool
	IncludeSessionHistory bool
	Ramp                  int
	Kits                  []any

	raw []byte
}

// Parse decodes a configuration document. Missing keys take their defaults;
// a document that is not a JSON object fails with ErrMalformedConfig.
func Parse(raw []byte) (*Config, error) {
	doc, err := message.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	cfg := &Config{
		UnhandledExceptions:   ExceptionsAppDefined,
		InfluenceOpenTimeout:  defaultInfluenceOpenTimeout,
		RestrictAAIDFromLAT:   true,
		IncludeSessionHistory: true,
		Ramp:                  -1,
		raw:                   append([]byte(nil), raw...),
	}

	if s, ok := doc.GetString(keyUnhandledExceptions); ok {
		cfg.UnhandledExceptions = s
	}
	if list, ok := doc.Get(keyPushMessages); ok {
		cfg.PushKeys = stringList(list)
	}
	if b, ok := doc.GetBool(keyOptOut); ok {
		cfg.SendOptOutEvents = b
	}
	if secs, ok := doc.GetInt64(keySessionTimeout); ok && secs > 0 {
		cfg.SessionTimeout = time.Duration(secs) * time.Second
	}
	if secs, ok := doc.GetInt64(keyUploadInterval); ok && secs > 0 {
		cfg.UploadInterval = time.Duration(secs) * time.Second
	}
	if mins, ok := doc.GetInt64(keyInfluenceOpen); ok {
		cfg.InfluenceOpenTimeout = time.Duration(mins) * time.Minute
	}
	if b, ok := doc.GetBool(keyRestrictAAID); ok {
		cfg.RestrictAAIDFromLAT = b
	}
	if b, ok := doc.GetBool(keySessionHistory); ok {
		cfg.IncludeSessionHistory = b
	}
	if rp, ok := doc.GetInt(keyRamp); ok {
		cfg.Ramp = rp
	}
	if v, ok := doc.Get(keyEmbeddedKits); ok {
		if kits, ok := v.([]any); ok {
			cfg.Kits = kits
		}
	}

	if items, ok := doc.GetObject(keyTriggerItems); ok {
		if v, ok := items.Get(keyMessageMatches); ok {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					if rule, ok := item.(*message.Message); ok {
						cfg.MessageMatches = append(cfg.MessageMatches, rule)
					}
				}
			}
		}
		if v, ok := items.Get(keyTriggerHashes); ok {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					if h, ok := message.ToInt64(item); ok {
						cfg.TriggerHashes = append(cfg.TriggerHashes, int32(h))
					}
				}
			}
		}
	}

	return cfg, nil
}

// Raw returns the document the config was parsed from.
func (c *Config) Raw() []byte {
	return c.raw
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
