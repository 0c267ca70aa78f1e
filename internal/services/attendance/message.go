package attendance

import (
	"strings"

	"github.com/BearBump/BusTrack/internal/localtime"
	"github.com/BearBump/BusTrack/internal/models"
)

func verb(tag models.Tag) string {
	switch tag {
	case models.TagMorningEntry, models.TagAfternoonEntry:
		return "boarded"
	default:
		return "got off"
	}
}

// message renders the text sent to guardians, e.g.
// "Asha boarded bus KA-01 (assigned KA-02) at Stop 4 (assigned stop Stop 2) at 04 Mar 2024 07:15 AM".
func (s *Service) message(student *models.Student, bus *models.Bus, ev models.TagEvent, assignedStop *models.BusStop) string {
	name := student.Name
	if name == "" {
		name = student.ID
	}
	busName := bus.Name
	if busName == "" {
		busName = bus.ID
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(verb(ev.Tag))
	b.WriteString(" bus ")
	b.WriteString(busName)
	if ev.AssignedBusID != "" {
		b.WriteString(" (assigned ")
		b.WriteString(ev.AssignedBusID)
		b.WriteString(")")
	}
	if ev.Tag == models.TagMorningExit || ev.Tag == models.TagAfternoonEntry {
		b.WriteString(" at school")
	} else if ev.Location != "" {
		b.WriteString(" at ")
		b.WriteString(ev.Location)
	}
	if assignedStop != nil {
		b.WriteString(" (assigned stop ")
		b.WriteString(assignedStop.Name)
		b.WriteString(")")
	}
	b.WriteString(" at ")
	b.WriteString(localtime.Format(ev.Time, s.displayLoc))
	return b.String()
}
