package calendar

import (
	"strings"

	"github.com/cyp0633/kolabdav/record"
)

// table maps a record enumeration to its wire keyword and back.
type table[T ~string] struct {
	toWire   map[T]string
	fromWire map[string]T
}

func newTable[T ~string](pairs map[T]string) table[T] {
	t := table[T]{toWire: pairs, fromWire: make(map[string]T, len(pairs))}
	for k, v := range pairs {
		t.fromWire[v] = k
	}
	return t
}

func (t table[T]) wire(v T) (string, bool) {
	s, ok := t.toWire[v]
	return s, ok
}

func (t table[T]) parse(s string) (T, bool) {
	v, ok := t.fromWire[strings.ToUpper(strings.TrimSpace(s))]
	return v, ok
}

var (
	statusTable = newTable(map[record.Status]string{
		record.StatusTentative:   "TENTATIVE",
		record.StatusConfirmed:   "CONFIRMED",
		record.StatusCancelled:   "CANCELLED",
		record.StatusNeedsAction: "NEEDS-ACTION",
		record.StatusInProcess:   "IN-PROCESS",
		record.StatusCompleted:   "COMPLETED",
	})
	classTable = newTable(map[record.Class]string{
		record.ClassPublic:       "PUBLIC",
		record.ClassPrivate:      "PRIVATE",
		record.ClassConfidential: "CONFIDENTIAL",
	})
	transpTable = newTable(map[record.Transparency]string{
		record.TransparencyBusy: "OPAQUE",
		record.TransparencyFree: "TRANSPARENT",
	})
	roleTable = newTable(map[record.Role]string{
		record.RoleRequired:    "REQ-PARTICIPANT",
		record.RoleOptional:    "OPT-PARTICIPANT",
		record.RoleNonParticip: "NON-PARTICIPANT",
		record.RoleChair:       "CHAIR",
	})
	partStatTable = newTable(map[record.PartStat]string{
		record.PartStatNeedsAction: "NEEDS-ACTION",
		record.PartStatAccepted:    "ACCEPTED",
		record.PartStatDeclined:    "DECLINED",
		record.PartStatTentative:   "TENTATIVE",
		record.PartStatDelegated:   "DELEGATED",
		record.PartStatCompleted:   "COMPLETED",
		record.PartStatInProcess:   "IN-PROCESS",
	})
)

// PartStatKeyword returns the wire keyword of a participation status, as used
// in store query tags.
func PartStatKeyword(s record.PartStat) string {
	kw, _ := partStatTable.wire(s)
	return kw
}
