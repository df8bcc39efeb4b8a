package notify

import (
	"time"

	"github.com/shanehull/douclip/internal/types"
)

const DefaultTimezone = "America/Sao_Paulo"

// AlwaysWindow is the weekly slot in which a daily run notifies even without
// matches, so recipients know the system is alive. Hours are [StartHour,
// EndHour) in Location.
type AlwaysWindow struct {
	Weekday   time.Weekday
	StartHour int
	EndHour   int
	Location  *time.Location
}

// DefaultAlwaysWindow is Tuesday 08:00 to 18:00 in São Paulo.
func DefaultAlwaysWindow() AlwaysWindow {
	return AlwaysWindow{
		Weekday:   time.Tuesday,
		StartHour: 8,
		EndHour:   18,
		Location:  saoPaulo(),
	}
}

func (w AlwaysWindow) Contains(ts time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := ts.In(loc)
	if local.Weekday() != w.Weekday {
		return false
	}
	return local.Hour() >= w.StartHour && local.Hour() < w.EndHour
}

// ShouldAlwaysNotify reports whether ts falls in the default always-notify
// window.
func ShouldAlwaysNotify(ts time.Time) bool {
	return DefaultAlwaysWindow().Contains(ts)
}

type Input struct {
	Mode         types.Mode
	MatchCount   int
	AlwaysNotify bool
	Enabled      bool
}

type Decision struct {
	Send bool
	// Operational marks a zero-match "system operational" message.
	Operational bool
	Reason      string
}

// Decide applies the notification policy to a finished run.
func Decide(in Input) Decision {
	switch {
	case in.Mode == types.ModeBackfill:
		return Decision{Reason: "backfill runs never notify"}
	case !in.Enabled:
		return Decision{Reason: "email disabled"}
	case in.MatchCount > 0:
		return Decision{Send: true, Reason: "new matches"}
	case in.AlwaysNotify:
		return Decision{Send: true, Operational: true, Reason: "always-notify window"}
	default:
		return Decision{Reason: "no matches"}
	}
}

func saoPaulo() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		// No tzdata available; Brazil has had no DST since 2019.
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}
