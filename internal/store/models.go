package store

import (
	"database/sql"

	"github.com/Wuchinator/analytics-sdk-core/internal/message"
)

// Message statuses.
const (
	StatusReady      = 1
	StatusBatchReady = 2
)

// SessionStatusClosed marks a finished session; open sessions have NULL.
const SessionStatusClosed = "closed"

// StatusFor returns the upload status a freshly stored record gets. First-run
// records are batched immediately.
func StatusFor(t message.Type) int {
	if t == message.TypeFirstRun {
		return StatusBatchReady
	}
	return StatusReady
}

type MessageRow struct {
	ID        int64  `db:"id"`
	APIKey    string `db:"api_key"`
	CreatedAt int64  `db:"created_at"`
	SessionID string `db:"session_id"`
	Message   string `db:"message"`
	Status    int    `db:"status"`
}

type Session struct {
	ID               int64          `db:"id"`
	APIKey           string         `db:"api_key"`
	SessionID        string         `db:"session_id"`
	StartTime        int64          `db:"start_time"`
	EndTime          int64          `db:"end_time"`
	ForegroundLength int64          `db:"session_length"`
	Attributes       sql.NullString `db:"attributes"`
	Status           sql.NullString `db:"status"`
	AppInfo          sql.NullString `db:"app_info"`
	DeviceInfo       sql.NullString `db:"device_info"`
}

func (s *Session) Open() bool {
	return !s.Status.Valid
}

type Breadcrumb struct {
	ID        int64  `db:"id"`
	APIKey    string `db:"api_key"`
	CreatedAt int64  `db:"created_at"`
	SessionID string `db:"session_id"`
	Message   string `db:"message"`
}

type PushMessage struct {
	ContentID   int32          `db:"content_id"`
	CampaignID  int32          `db:"campaign_id"`
	Expiration  int64          `db:"expiration"`
	DisplayedAt int64          `db:"displayed_at"`
	Behavior    int            `db:"behavior"`
	Payload     string         `db:"payload"`
	AppState    sql.NullString `db:"app_state"`
	CreatedAt   int64          `db:"created_at"`
}

type ReportingRecord struct {
	ID        int64          `db:"id"`
	CreatedAt int64          `db:"created_at"`
	ModuleID  int            `db:"module_id"`
	Message   string         `db:"message"`
	SessionID sql.NullString `db:"session_id"`
}

type userAttributeRow struct {
	Key       string         `db:"attribute_key"`
	Value     sql.NullString `db:"attribute_value"`
	IsList    bool           `db:"is_list"`
	CreatedAt int64          `db:"created_at"`
}
