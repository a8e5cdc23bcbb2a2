package calendar

import (
	"dualthrust-bt-go/internal/models"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // sessions are defined in exchange-local time
)

const (
	MarketHK     = "HK"
	MarketAlways = "24x7"
	MarketCustom = "custom"

	BarStampBoth  = "both"
	BarStampStart = "start"
	BarStampEnd   = "end"

	minutesPerDay = 24 * 60
	// boundary searches give up after this many days without a session
	searchHorizonDays = 400
)

// Session is one trading interval. Which of its ends a bar may sit on depends on the bar stamp.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Calendar answers whether a timestamp is tradable and where sessions begin and end.
type Calendar interface {
	IsTradable(t time.Time) bool
	SessionBoundsFor(date time.Time) []Session
	NextBoundary(t time.Time) (time.Time, bool)
	PrevBoundary(t time.Time) (time.Time, bool)
	Location() *time.Location
}

type window struct {
	open, close int // minutes after local midnight
}

// Exchange is a weekly calendar with fixed intraday sessions and a holiday list.
type Exchange struct {
	loc          *time.Location
	sessions     []window
	openWeekends bool
	holidays     map[string]struct{}
	stamp        string
}

var hkSessions = []models.SessionConfig{{Open: "09:30", Close: "12:00"}, {Open: "13:00", Close: "16:00"}}

// New builds the calendar described by cfg.
func New(cfg models.CalendarConfig) (*Exchange, error) {
	loc, err := Location(cfg)
	if err != nil {
		return nil, err
	}

	var sessionCfg []models.SessionConfig
	openWeekends := false
	switch strings.ToUpper(cfg.Market) {
	case MarketHK, "":
		sessionCfg = hkSessions
		if len(cfg.Sessions) > 0 {
			sessionCfg = cfg.Sessions
		}
	case strings.ToUpper(MarketAlways):
		sessionCfg = []models.SessionConfig{{Open: "00:00", Close: "24:00"}}
		openWeekends = true
	case strings.ToUpper(MarketCustom):
		if len(cfg.Sessions) == 0 {
			return nil, fmt.Errorf("custom calendar needs at least one session")
		}
		sessionCfg = cfg.Sessions
	default:
		return nil, fmt.Errorf("unknown market %q", cfg.Market)
	}

	windows, err := parseSessions(sessionCfg)
	if err != nil {
		return nil, err
	}

	stamp := strings.ToLower(cfg.BarStamp)
	switch stamp {
	case "":
		stamp = BarStampBoth
	case BarStampBoth, BarStampStart, BarStampEnd:
	default:
		return nil, fmt.Errorf("unknown bar_stamp %q, want start, end or both", cfg.BarStamp)
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		holidays[d.Format("2006-01-02")] = struct{}{}
	}

	return &Exchange{loc: loc, sessions: windows, openWeekends: openWeekends, holidays: holidays, stamp: stamp}, nil
}

// AlwaysOpen returns a calendar where every instant of every day is tradable.
func AlwaysOpen(loc *time.Location) *Exchange {
	if loc == nil {
		loc = time.UTC
	}
	return &Exchange{
		loc:          loc,
		sessions:     []window{{open: 0, close: minutesPerDay}},
		openWeekends: true,
		holidays:     map[string]struct{}{},
		stamp:        BarStampBoth,
	}
}

// Location resolves the time zone of cfg, falling back to the market default.
func Location(cfg models.CalendarConfig) (*time.Location, error) {
	name := cfg.Timezone
	if name == "" {
		switch strings.ToUpper(cfg.Market) {
		case MarketHK, "":
			name = "Asia/Hong_Kong"
		default:
			name = "UTC"
		}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

func parseSessions(cfg []models.SessionConfig) ([]window, error) {
	windows := make([]window, 0, len(cfg))
	for _, s := range cfg {
		open, err := parseClock(s.Open)
		if err != nil {
			return nil, err
		}
		closeAt, err := parseClock(s.Close)
		if err != nil {
			return nil, err
		}
		if closeAt <= open {
			return nil, fmt.Errorf("session %s-%s closes before it opens", s.Open, s.Close)
		}
		windows = append(windows, window{open: open, close: closeAt})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].open < windows[j].open })
	for i := 1; i < len(windows); i++ {
		if windows[i].open <= windows[i-1].close {
			return nil, fmt.Errorf("sessions overlap")
		}
	}
	return windows, nil
}

// parseClock turns "HH:MM" into minutes after midnight. "24:00" is accepted as end of day.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad session time %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad session time %q", s)
	}
	minutes := h*60 + m
	if minutes > minutesPerDay {
		return 0, fmt.Errorf("bad session time %q", s)
	}
	return minutes, nil
}

func (c *Exchange) Location() *time.Location { return c.loc }

// IsTradable reports whether t falls inside one of the sessions of its local day.
// With the "start" stamp the close is excluded, with "end" the open is. An end-stamped
// bar is checked against the instant before t, so a bar at midnight belongs to the
// day that just ended.
func (c *Exchange) IsTradable(t time.Time) bool {
	switch c.stamp {
	case BarStampStart:
		return c.inSession(t.In(c.loc))
	case BarStampEnd:
		return c.inSession(t.Add(-time.Nanosecond).In(c.loc))
	}
	local := t.In(c.loc)
	for _, s := range c.SessionBoundsFor(local) {
		if !local.Before(s.Open) && !local.After(s.Close) {
			return true
		}
	}
	return false
}

// inSession reports whether local lies in [open, close) of a session of its day.
func (c *Exchange) inSession(local time.Time) bool {
	for _, s := range c.SessionBoundsFor(local) {
		if !local.Before(s.Open) && local.Before(s.Close) {
			return true
		}
	}
	return false
}

// SessionBoundsFor returns the ordered sessions of the local day containing date.
// Weekends (unless open) and holidays have none.
func (c *Exchange) SessionBoundsFor(date time.Time) []Session {
	local := date.In(c.loc)
	if !c.isTradingDay(local) {
		return nil
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	out := make([]Session, 0, len(c.sessions))
	for _, w := range c.sessions {
		out = append(out, Session{
			Open:  midnight.Add(time.Duration(w.open) * time.Minute),
			Close: midnight.Add(time.Duration(w.close) * time.Minute),
		})
	}
	return out
}

// NextBoundary returns the first session open or close strictly after t.
func (c *Exchange) NextBoundary(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < searchHorizonDays; i++ {
		for _, s := range c.SessionBoundsFor(day.AddDate(0, 0, i)) {
			if s.Open.After(t) {
				return s.Open, true
			}
			if s.Close.After(t) {
				return s.Close, true
			}
		}
	}
	return time.Time{}, false
}

// PrevBoundary returns the last session open or close strictly before t.
func (c *Exchange) PrevBoundary(t time.Time) (time.Time, bool) {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < searchHorizonDays; i++ {
		sessions := c.SessionBoundsFor(day.AddDate(0, 0, -i))
		for j := len(sessions) - 1; j >= 0; j-- {
			if sessions[j].Close.Before(t) {
				return sessions[j].Close, true
			}
			if sessions[j].Open.Before(t) {
				return sessions[j].Open, true
			}
		}
	}
	return time.Time{}, false
}

func (c *Exchange) isTradingDay(local time.Time) bool {
	if !c.openWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}
