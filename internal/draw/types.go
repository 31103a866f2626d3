// Package draw defines the shared domain types for live draw ingestion.
package draw

import (
	"strconv"
	"time"
)

// Placeholder is stored for slots that have no committed value yet.
const Placeholder = "..."

// WholeField marks a ChangeEvent that carries every slot of a field.
const WholeField = -1

// Target identifies one record under assembly: a family, a draw date and an
// optional region for families that publish several regions per draw.
type Target struct {
	Family     string
	Code       string
	Date       time.Time
	Region     string
	RegionSlug string
}

// NewTarget builds a Target for the family and region, deriving the region slug.
func NewTarget(f Family, date time.Time, region string) Target {
	return Target{
		Family:     f.Name,
		Code:       f.Code,
		Date:       date,
		Region:     region,
		RegionSlug: Slugify(region),
	}
}

// ID returns the stable record identity, e.g. xsmn-19-10-2026-tp-hcm.
func (t Target) ID() string {
	id := t.Code + "-" + FormatDate(t.Date)
	if t.RegionSlug != "" {
		id += "-" + t.RegionSlug
	}
	return id
}

// Channel returns the event channel and snapshot keys for the target.
func (t Target) Channel(multi bool) Channel {
	name := t.Code + ":" + FormatDate(t.Date)
	snapshot := "kqxs:" + name
	if multi && t.RegionSlug != "" {
		name += ":" + t.RegionSlug
		snapshot += ":" + t.RegionSlug
	}
	return Channel{Name: name, SnapshotKey: snapshot}
}

// Channel names a subscriber channel and its companion snapshot hash.
type Channel struct {
	Name        string
	SnapshotKey string
}

// MetaKey returns the key of the snapshot metadata hash.
func (c Channel) MetaKey() string {
	return c.SnapshotKey + ":meta"
}

// Candidates maps a field key to the raw slot values read in one extraction.
type Candidates map[string][]string

// RegionCandidates is the raw data read for one region.
type RegionCandidates struct {
	Region string     `json:"region" yaml:"region"`
	Fields Candidates `json:"fields" yaml:"fields"`
}

// Extraction is the output of one extractor call.
type Extraction struct {
	Targets []RegionCandidates `json:"targets" yaml:"targets"`
}

// ExtractRequest describes one extractor call.
type ExtractRequest struct {
	Family    Family
	Date      time.Time
	Regions   []string
	Iteration int
}

// ChangeEvent announces a newly committed slot value or a fully valid field.
type ChangeEvent struct {
	TargetID   string    `json:"target_id"`
	Family     string    `json:"family"`
	DrawDate   string    `json:"draw_date"`
	Region     string    `json:"region,omitempty"`
	RegionSlug string    `json:"region_slug,omitempty"`
	Year       int       `json:"year"`
	Month      int       `json:"month"`
	Field      string    `json:"field"`
	Slot       int       `json:"slot"`
	Key        string    `json:"key"`
	Value      string    `json:"value,omitempty"`
	Values     []string  `json:"values,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

// SlotKey returns the snapshot key of a single slot.
func SlotKey(field string, slot int) string {
	return field + "_" + strconv.Itoa(slot)
}

// Record is the canonical aggregate persisted per target.
type Record struct {
	ID         string              `json:"id"`
	Family     string              `json:"family"`
	Code       string              `json:"code"`
	DrawDate   time.Time           `json:"draw_date"`
	Region     string              `json:"region,omitempty"`
	RegionSlug string              `json:"region_slug,omitempty"`
	Weekday    string              `json:"weekday"`
	Year       int                 `json:"year"`
	Month      int                 `json:"month"`
	Fields     map[string][]string `json:"fields"`
	Complete   bool                `json:"complete"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// NewRecord builds the record for a target from its committed field values.
func NewRecord(t Target, fields map[string][]string, complete bool) Record {
	return Record{
		ID:         t.ID(),
		Family:     t.Family,
		Code:       t.Code,
		DrawDate:   t.Date,
		Region:     t.Region,
		RegionSlug: t.RegionSlug,
		Weekday:    WeekdayLabel(t.Date.Weekday()),
		Year:       t.Date.Year(),
		Month:      int(t.Date.Month()),
		Fields:     fields,
		Complete:   complete,
	}
}

// BusinessFields is the subset of a record compared when deciding whether to write.
type BusinessFields struct {
	Region string              `json:"region"`
	Fields map[string][]string `json:"fields"`
}

// Business returns the fields that participate in change detection.
func (r Record) Business() BusinessFields {
	return BusinessFields{Region: r.Region, Fields: r.Fields}
}
