package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type AvailabilitySlot struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Date          string     `db:"date" json:"date"`
	StartTime     string     `db:"start_time" json:"start_time"`
	EndTime       string     `db:"end_time" json:"end_time"`
	IsBooked      bool       `db:"is_booked" json:"is_booked"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether s and other share any minute on the same doctor and date.
func (s *AvailabilitySlot) Overlaps(other *AvailabilitySlot) bool {
	if s.DoctorID != other.DoctorID || s.Date != other.Date {
		return false
	}
	return RangesOverlap(s.StartTime, s.EndTime, other.StartTime, other.EndTime)
}

// Matches reports whether the slot serves a booking at start (and end, when given).
func (s *AvailabilitySlot) Matches(date, start, end string) bool {
	if s.Date != date || s.StartTime != start {
		return false
	}
	return end == "" || s.EndTime == end
}

// SlotEntry is a single slot in a publish request.
type SlotEntry struct {
	Date      string `json:"date" binding:"required,isodate"`
	StartTime string `json:"start_time" binding:"required,hhmm"`
	EndTime   string `json:"end_time" binding:"required,hhmm"`
}

// Validate checks formats and start < end.
func (e SlotEntry) Validate() error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("invalid date %q", e.Date)
	}
	start, err := MinuteOfDay(e.StartTime)
	if err != nil {
		return err
	}
	end, err := MinuteOfDay(e.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("start time %s must be before end time %s", e.StartTime, e.EndTime)
	}
	return nil
}

type AddSlotsRequest struct {
	Slots []SlotEntry `json:"slots" binding:"required,min=1,dive"`
}

type UpdateSlotRequest struct {
	StartTime string `json:"start_time" binding:"required,hhmm"`
	EndTime   string `json:"end_time" binding:"required,hhmm"`
}

// SlotRef identifies a reservation held by an appointment. The time range is
// filled in by Reserve only.
type SlotRef struct {
	SlotID        uuid.UUID `json:"slot_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	StartTime     string    `json:"start_time,omitempty"`
	EndTime       string    `json:"end_time,omitempty"`
}

type SlotFilters struct {
	DoctorID uuid.UUID
	Date     string
	OnlyFree bool
}

// MinuteOfDay parses an HH:MM value into minutes since midnight.
func MinuteOfDay(hhmm string) (int, error) {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// RangesOverlap compares two half-open [start, end) HH:MM ranges.
// Unparseable values never overlap.
func RangesOverlap(start1, end1, start2, end2 string) bool {
	s1, err1 := MinuteOfDay(start1)
	e1, err2 := MinuteOfDay(end1)
	s2, err3 := MinuteOfDay(start2)
	e2, err4 := MinuteOfDay(end2)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return s1 < e2 && s2 < e1
}
