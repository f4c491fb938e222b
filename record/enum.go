package record

// Status is the scheduling or completion state of an event or task.
type Status string

const (
	StatusNone        Status = ""
	StatusTentative   Status = "tentative"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusNeedsAction Status = "needs-action"
	StatusInProcess   Status = "in-process"
	StatusCompleted   Status = "completed"
)

// Class is the access classification.
type Class string

const (
	ClassNone         Class = ""
	ClassPublic       Class = "public"
	ClassPrivate      Class = "private"
	ClassConfidential Class = "confidential"
)

// Transparency is the free/busy impact of an event.
type Transparency string

const (
	TransparencyNone Transparency = ""
	TransparencyBusy Transparency = "busy"
	TransparencyFree Transparency = "free"
)

// Role is an attendee role.
type Role string

const (
	RoleNone        Role = ""
	RoleRequired    Role = "required"
	RoleOptional    Role = "optional"
	RoleNonParticip Role = "non-participant"
	RoleChair       Role = "chair"
)

// PartStat is an attendee participation status.
type PartStat string

const (
	PartStatNone        PartStat = ""
	PartStatNeedsAction PartStat = "needs-action"
	PartStatAccepted    PartStat = "accepted"
	PartStatDeclined    PartStat = "declined"
	PartStatTentative   PartStat = "tentative"
	PartStatDelegated   PartStat = "delegated"
	PartStatCompleted   PartStat = "completed"
	PartStatInProcess   PartStat = "in-process"
)
