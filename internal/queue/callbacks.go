package queue

import (
	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
)

// Callbacks connects the worker to the rest of the SDK. Every method is
// called from the worker goroutine and must not block on the network.
type Callbacks interface {
	CheckForTrigger(m *message.Message)
	AttributeRemoved(key string)
	LogUserAttributeChange(key string, newValue, oldValue any, deleted, isNew bool, ts int64)
	LogNotification(contentID int32, payload, appState string, behavior push.Behavior)
	// APIKey fails with ErrNoCredentials when no key is configured.
	APIKey() (string, error)
	DeviceAttributes() DeviceAttributes
	EndUploadLoop()
	// DelayedStart runs before every command once the store is open.
	// Implementations must make repeated calls cheap.
	DelayedStart()
	StateInfo() *message.Message
	CreateSessionEndMessage(sessionID string, start, end, foregroundLength int64, attributes map[string]any) (*message.Message, error)
}

type DeviceAttributes interface {
	// AppInfo describes the host app. refresh is set when the install
	// referrer changed and cached values must be rebuilt.
	AppInfo(refresh bool) *message.Message
	DeviceInfo() *message.Message
}

// Kits forwards attribute changes to integrated third-party SDKs.
type Kits interface {
	SetUserAttribute(key, value string)
}

// Limits exposes the configuration values the worker needs.
type Limits interface {
	BreadcrumbLimit() int
}
