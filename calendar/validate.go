package calendar

import (
	"slices"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/kolabdav/record"
)

// Validate checks that data holds objects of exactly one component type,
// all sharing one UID, and that the type is among supported (for example
// "VEVENT"). Timezone definitions are ignored.
func Validate(data []byte, supported []string) error {
	cal, err := decode(data)
	if err != nil {
		return err
	}

	var compType, uid string
	for _, child := range cal.Children {
		switch child.Name {
		case ical.CompTimezone:
			continue
		case ical.CompEvent, ical.CompToDo, ical.CompJournal:
		default:
			return record.Errorf(record.ErrParse, "calendar.Validate", "unsupported component %s", child.Name)
		}

		childUID, _ := child.Props.Text(ical.PropUID)
		if compType == "" {
			compType, uid = child.Name, childUID
			continue
		}
		if child.Name != compType {
			return record.Errorf(record.ErrParse, "calendar.Validate", "mixed component types %s and %s", compType, child.Name)
		}
		if childUID != uid {
			return record.Errorf(record.ErrParse, "calendar.Validate", "every object must share UID %q", uid)
		}
	}

	if compType == "" {
		return record.Errorf(record.ErrParse, "calendar.Validate", "no calendar object found")
	}
	if uid == "" {
		return record.Errorf(record.ErrParse, "calendar.Validate", "%s without UID", compType)
	}
	if len(supported) > 0 && !slices.Contains(supported, compType) {
		return record.Errorf(record.ErrParse, "calendar.Validate", "%s not supported by this collection", compType)
	}
	return nil
}

// ComponentName returns the iCalendar component name of a record type.
func ComponentName(t record.Type) string {
	if t == record.TypeTask {
		return ical.CompToDo
	}
	return ical.CompEvent
}
