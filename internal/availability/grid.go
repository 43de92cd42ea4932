package availability

import "time"

type SlotState struct {
	Time      string `json:"time"`
	Offerable bool   `json:"offerable"`
	Reason    string `json:"reason,omitempty"`
}

type Day struct {
	Date    string      `json:"date"`
	Weekday string      `json:"weekday"`
	Slots   []SlotState `json:"slots"`
}

// Grid lays out days consecutive calendar days starting at from, with every
// configured slot and its verdict. It is what a calendar view renders.
func (c *Calculator) Grid(from time.Time, days int) []Day {
	if days <= 0 {
		return nil
	}

	start := c.Day(from)
	out := make([]Day, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		d := Day{
			Date:    day.Format(DateLayout),
			Weekday: day.Weekday().String(),
			Slots:   make([]SlotState, 0, len(c.slots)),
		}
		for _, label := range c.slots {
			st := SlotState{Time: label, Offerable: true}
			if err := c.Check(day, label); err != nil {
				st.Offerable = false
				st.Reason = err.Error()
			}
			d.Slots = append(d.Slots, st)
		}
		out = append(out, d)
	}
	return out
}
