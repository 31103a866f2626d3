package draw

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownFamily is returned when a family name matches no known family.
var ErrUnknownFamily = errors.New("unknown draw family")

// Field keys shared by the built-in families.
const (
	FieldDrawCode     = "draw_code"
	FieldSpecialPrize = "special_prize"
	FieldFirstPrize   = "first_prize"
	FieldSecondPrize  = "second_prize"
	FieldThirdPrize   = "third_prize"
	FieldFourthPrize  = "fourth_prize"
	FieldFifthPrize   = "fifth_prize"
	FieldSixthPrize   = "sixth_prize"
	FieldSeventhPrize = "seventh_prize"
	FieldEighthPrize  = "eighth_prize"
)

// Family describes one recurring live draw and how to watch it.
type Family struct {
	Name         string
	Code         string
	Label        string
	MultiTarget  bool
	Schema       Schema
	Location     *time.Location
	LiveWindow   Window
	LiveInterval time.Duration
	IdleInterval time.Duration
	Budget       time.Duration
	// RegionByWeekday names the single region drawn on each weekday.
	RegionByWeekday map[time.Weekday]string
}

// DefaultRegion returns the region drawn on date for single-target families.
func (f Family) DefaultRegion(date time.Time) string {
	if f.RegionByWeekday == nil {
		return ""
	}
	return f.RegionByWeekday[date.Weekday()]
}

// Window is a daily local-time interval expressed in minutes after midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:MM" start and end strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("parse window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("parse window end: %w", err)
	}
	if e <= s {
		return Window{}, fmt.Errorf("window end %q must be after start %q", end, start)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t falls inside the window in loc.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	m := t.Hour()*60 + t.Minute()
	return m >= w.Start && m < w.End
}

// String formats the window as HH:MM-HH:MM.
func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the draw time zone, falling back to a fixed UTC+7 offset
// when the tz database is unavailable.
func Location() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

var northSchema = Schema{
	{Key: FieldDrawCode, Slots: 1, Shape: Text(64)},
	{Key: FieldSpecialPrize, Slots: 1, Shape: Digits(5), Threshold: 2},
	{Key: FieldFirstPrize, Slots: 1, Shape: Digits(5)},
	{Key: FieldSecondPrize, Slots: 2, Shape: Digits(5)},
	{Key: FieldThirdPrize, Slots: 6, Shape: Digits(5)},
	{Key: FieldFourthPrize, Slots: 4, Shape: Digits(4)},
	{Key: FieldFifthPrize, Slots: 6, Shape: Digits(4)},
	{Key: FieldSixthPrize, Slots: 3, Shape: Digits(3)},
	{Key: FieldSeventhPrize, Slots: 4, Shape: Digits(2)},
}

var provincialSchema = Schema{
	{Key: FieldEighthPrize, Slots: 1, Shape: Digits(2)},
	{Key: FieldSeventhPrize, Slots: 1, Shape: Digits(3)},
	{Key: FieldSixthPrize, Slots: 3, Shape: Digits(4)},
	{Key: FieldFifthPrize, Slots: 1, Shape: Digits(4)},
	{Key: FieldFourthPrize, Slots: 7, Shape: Digits(5)},
	{Key: FieldThirdPrize, Slots: 2, Shape: Digits(5)},
	{Key: FieldSecondPrize, Slots: 1, Shape: Digits(5)},
	{Key: FieldFirstPrize, Slots: 1, Shape: Digits(5)},
	{Key: FieldSpecialPrize, Slots: 1, Shape: Digits(6), Threshold: 2},
}

var northRegions = map[time.Weekday]string{
	time.Sunday:    "Thái Bình",
	time.Monday:    "Hà Nội",
	time.Tuesday:   "Quảng Ninh",
	time.Wednesday: "Bắc Ninh",
	time.Thursday:  "Hà Nội",
	time.Friday:    "Hải Phòng",
	time.Saturday:  "Nam Định",
}

// BuiltinFamilies returns the families known without configuration, keyed by name.
func BuiltinFamilies() map[string]Family {
	loc := Location()
	return map[string]Family{
		"north": {
			Name:            "north",
			Code:            "xsmb",
			Label:           "Miền Bắc",
			Schema:          northSchema,
			Location:        loc,
			LiveWindow:      Window{Start: 18*60 + 14, End: 18*60 + 35},
			LiveInterval:    1500 * time.Millisecond,
			IdleInterval:    30 * time.Second,
			Budget:          20 * time.Minute,
			RegionByWeekday: northRegions,
		},
		"central": {
			Name:         "central",
			Code:         "xsmt",
			Label:        "Miền Trung",
			MultiTarget:  true,
			Schema:       provincialSchema,
			Location:     loc,
			LiveWindow:   Window{Start: 17*60 + 14, End: 17*60 + 35},
			LiveInterval: 1500 * time.Millisecond,
			IdleInterval: 30 * time.Second,
			Budget:       17 * time.Minute,
		},
		"south": {
			Name:         "south",
			Code:         "xsmn",
			Label:        "Miền Nam",
			MultiTarget:  true,
			Schema:       provincialSchema,
			Location:     loc,
			LiveWindow:   Window{Start: 16*60 + 10, End: 16*60 + 40},
			LiveInterval: 1500 * time.Millisecond,
			IdleInterval: 30 * time.Second,
			Budget:       27 * time.Minute,
		},
	}
}

// LookupFamily finds a built-in family by name or code.
func LookupFamily(name string) (Family, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	families := BuiltinFamilies()
	if f, ok := families[key]; ok {
		return f, nil
	}
	for _, f := range families {
		if f.Code == key {
			return f, nil
		}
	}
	return Family{}, fmt.Errorf("%w: %q", ErrUnknownFamily, name)
}

// FamilyNames returns the sorted names of the built-in families.
func FamilyNames() []string {
	families := BuiltinFamilies()
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
