package queue

import (
	"time"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
	"github.com/Wuchinator/analytics-sdk-core/internal/push"
)

// Command is the closed set of operations the worker executes. Only types
// declared in this package implement it.
type Command interface {
	command()
}

// StoreMessage persists a record and advances its session.
type StoreMessage struct {
	Message *message.Message
}

// UpdateSessionAttributes replaces the serialized attributes of a session.
type UpdateSessionAttributes struct {
	SessionID  string
	Attributes map[string]any
}

// UpdateSessionEnd advances a session's end time and foreground length.
type UpdateSessionEnd struct {
	SessionID        string
	EndTime          int64
	ForegroundLength int64
}

// CreateSessionEndMessage closes an open session and stores its end record.
type CreateSessionEndMessage struct {
	SessionID string
	// TerminatedByUser ends the upload loop once the session is closed.
	TerminatedByUser bool
}

// EndOrphanSessions closes sessions left open by a previous process.
type EndOrphanSessions struct{}

type StoreBreadcrumb struct {
	Message *message.Message
}

// StoreCloudMessage records an inbound push keyed by its content id.
type StoreCloudMessage struct {
	Push     *push.Message
	AppState string
}

// MarkInfluenceOpenCandidates reports every push displayed within Timeout
// before Timestamp that is not attributed yet.
type MarkInfluenceOpenCandidates struct {
	Timestamp int64
	Timeout   time.Duration
}

type ClearProviderPush struct{}

type ReportingMessage struct {
	Timestamp int64
	ModuleID  int
	Payload   *message.Message
	SessionID string
}

type StoreReportingBatch struct {
	Messages []ReportingMessage
}

type RemoveUserAttribute struct {
	Key  string
	Time int64
}

// SetUserAttribute writes single and list values in one transaction.
type SetUserAttribute struct {
	Singles map[string]string
	Lists   map[string][]string
	Time    int64
}

type IncrementUserAttribute struct {
	Key   string
	Delta int
	Time  int64
}

// UpdateInstallReferrer refreshes the app info stored with a session.
type UpdateInstallReferrer struct {
	SessionID string
}

type barrier struct {
	done chan struct{}
}

func (StoreMessage) command()                {}
func (UpdateSessionAttributes) command()     {}
func (UpdateSessionEnd) command()            {}
func (CreateSessionEndMessage) command()     {}
func (EndOrphanSessions) command()           {}
func (StoreBreadcrumb) command()             {}
func (StoreCloudMessage) command()           {}
func (MarkInfluenceOpenCandidates) command() {}
func (ClearProviderPush) command()           {}
func (StoreReportingBatch) command()         {}
func (RemoveUserAttribute) command()         {}
func (SetUserAttribute) command()            {}
func (IncrementUserAttribute) command()      {}
func (UpdateInstallReferrer) command()       {}
func (barrier) command()                     {}

// commandName is used in log fields.
func commandName(cmd Command) string {
	switch cmd.(type) {
	case StoreMessage:
		return "store_message"
	case UpdateSessionAttributes:
		return "update_session_attributes"
	case UpdateSessionEnd:
		return "update_session_end"
	case CreateSessionEndMessage:
		return "create_session_end_message"
	case EndOrphanSessions:
		return "end_orphan_sessions"
	case StoreBreadcrumb:
		return "store_breadcrumb"
	case StoreCloudMessage:
		return "store_cloud_message"
	case MarkInfluenceOpenCandidates:
		return "mark_influence_open"
	case ClearProviderPush:
		return "clear_provider_push"
	case StoreReportingBatch:
		return "store_reporting_batch"
	case RemoveUserAttribute:
		return "remove_user_attribute"
	case SetUserAttribute:
		return "set_user_attribute"
	case IncrementUserAttribute:
		return "increment_user_attribute"
	case UpdateInstallReferrer:
		return "update_install_referrer"
	case barrier:
		return "barrier"
	default:
		return "unknown"
	}
}
