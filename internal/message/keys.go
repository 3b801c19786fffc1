package message

// Document keys as they appear in the serialized record.
const (
	KeyType                  = "dt"
	KeyID                    = "id"
	KeyTimestamp             = "ct"
	KeySessionID             = "sid"
	KeySessionStartTimestamp = "sct"
	KeyName                  = "n"
	KeyAttributes            = "attrs"
	KeyLocation              = "lc"
	KeyLatitude              = "lat"
	KeyLongitude             = "lng"
	KeyAccuracy              = "acc"
	KeyStateInfo             = "cs"
	KeyPayload               = "pay"
	KeyPushBehavior          = "bhv"
	KeyContentID             = "content_id"
	KeySessionLength         = "sl"
	KeySessionLengthTotal    = "slx"
	KeyStateTransitionType   = "t"
	KeyBreadcrumbs           = "bc"
	KeyErrorMessage          = "m"
	KeyNewAttributeValue     = "nv"
	KeyOldAttributeValue     = "ov"
	KeyAttributeDeleted      = "d"
	KeyIsNewAttribute        = "na"
	KeyOptOutStatus          = "s"
	KeyAppState              = "as"
	KeyInstallReferrer       = "ir"
)

// NoSessionID marks records created outside of any session. It is kept in
// the session_id column but never written into the document.
const NoSessionID = "NO-SESSION"

// MaxMessageSize is the largest serialized record the store accepts.
const MaxMessageSize = 100 * 1024

type Type string

const (
	TypeSessionStart        Type = "ss"
	TypeSessionEnd          Type = "se"
	TypeEvent               Type = "e"
	TypeScreenView          Type = "v"
	TypeCommerceEvent       Type = "cm"
	TypeOptOut              Type = "o"
	TypeError               Type = "x"
	TypePushRegistration    Type = "pr"
	TypeFirstRun            Type = "fr"
	TypeAppStateTransition  Type = "ast"
	TypePushReceived        Type = "pm"
	TypeBreadcrumb          Type = "bc"
	TypeProfile             Type = "pro"
	TypeUserAttributeChange Type = "uac"
)

var knownTypes = map[Type]struct{}{
	TypeSessionStart:        {},
	TypeSessionEnd:          {},
	TypeEvent:               {},
	TypeScreenView:          {},
	TypeCommerceEvent:       {},
	TypeOptOut:              {},
	TypeError:               {},
	TypePushRegistration:    {},
	TypeFirstRun:            {},
	TypeAppStateTransition:  {},
	TypePushReceived:        {},
	TypeBreadcrumb:          {},
	TypeProfile:             {},
	TypeUserAttributeChange: {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// RequestsLocation reports whether records of this type carry the device
// location when one is known.
func (t Type) RequestsLocation() bool {
	switch t {
	case TypeSessionStart, TypeSessionEnd, TypeError:
		return true
	default:
		return false
	}
}

// App state transition kinds stored under KeyStateTransitionType.
const (
	StateTransitionInit       = "app_init"
	StateTransitionExit       = "app_exit"
	StateTransitionBackground = "app_back"
	StateTransitionForeground = "app_fore"
)
