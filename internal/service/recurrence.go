package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

const maxIntervalWeeks = 52

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday, "SUNDAY": time.Sunday,
	"MON": time.Monday, "MONDAY": time.Monday,
	"TUE": time.Tuesday, "TUESDAY": time.Tuesday,
	"WED": time.Wednesday, "WEDNESDAY": time.Wednesday,
	"THU": time.Thursday, "THURSDAY": time.Thursday,
	"FRI": time.Friday, "FRIDAY": time.Friday,
	"SAT": time.Saturday, "SATURDAY": time.Saturday,
}

type weeklyRule struct {
	weekday time.Weekday
	tod     string
}

type recurrencePattern struct {
	weekly   []weeklyRule
	interval int
	dates    []models.Slot
}

func invalidRecurrence(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrInvalidRecurrence, fmt.Sprintf(format, args...))
}

// parseRecurrence resolves a stored recurrence definition into a slot pattern.
func parseRecurrence(raw []byte) (*recurrencePattern, error) {
	var def models.Recurrence
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, invalidRecurrence("recurrence is not valid JSON: %v", err)
		}
	}

	pattern := &recurrencePattern{interval: def.IntervalWeeks}
	if pattern.interval == 0 {
		pattern.interval = 1
	}
	if pattern.interval < 0 || pattern.interval > maxIntervalWeeks {
		return nil, invalidRecurrence("intervalWeeks must be between 1 and %d", maxIntervalWeeks)
	}

	for _, slot := range def.Weekly {
		weekday, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(slot.Weekday))]
		if !ok {
			return nil, invalidRecurrence("unknown weekday %q", slot.Weekday)
		}
		tod := strings.TrimSpace(slot.Time)
		if tod != "" {
			if _, err := time.Parse(models.TimeLayout, tod); err != nil {
				return nil, invalidRecurrence("invalid time of day %q", slot.Time)
			}
		}
		pattern.weekly = append(pattern.weekly, weeklyRule{weekday: weekday, tod: tod})
	}

	for _, value := range def.Dates {
		date, tod, _ := strings.Cut(strings.TrimSpace(value), "T")
		slot, err := models.ParseSlot(date, tod)
		if err != nil {
			return nil, invalidRecurrence("invalid explicit date %q", value)
		}
		pattern.dates = append(pattern.dates, slot)
	}

	return pattern, nil
}

// ExpandRecurrence lists every slot the contract owes from its start date up
// to horizonEnd (inclusive), ordered by date then time with duplicates
// removed. Draft contracts owe nothing; end and termination dates cap the
// horizon.
func ExpandRecurrence(contract *models.Contract, horizonEnd time.Time) ([]models.Slot, error) {
	pattern, err := parseRecurrence(contract.Recurrence)
	if err != nil {
		return nil, err
	}
	if !contract.Issued() {
		return nil, nil
	}

	start := models.NewSlot(contract.StartDate, "").Date
	end := models.NewSlot(horizonEnd, "").Date
	if last := contract.ScheduleEnd(); last != nil {
		if lastDate := models.NewSlot(*last, "").Date; lastDate.Before(end) {
			end = lastDate
		}
	}
	if end.Before(start) {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var slots []models.Slot
	add := func(slot models.Slot) {
		if _, ok := seen[slot.Key()]; ok {
			return
		}
		seen[slot.Key()] = struct{}{}
		slots = append(slots, slot)
	}

	step := 7 * pattern.interval
	for _, rule := range pattern.weekly {
		offset := (int(rule.weekday) - int(start.Weekday()) + 7) % 7
		for day := start.AddDate(0, 0, offset); !day.After(end); day = day.AddDate(0, 0, step) {
			add(models.NewSlot(day, rule.tod))
		}
	}
	for _, slot := range pattern.dates {
		if slot.Date.Before(start) || slot.Date.After(end) {
			continue
		}
		add(slot)
	}

	sortSlots(slots)
	return slots, nil
}

func sortSlots(slots []models.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Date.Equal(slots[j].Date) {
			return slots[i].Date.Before(slots[j].Date)
		}
		return slots[i].Time < slots[j].Time
	})
}

// planGap drops every slot already materialised, either as an original
// scheduled slot (voided or not) or as the current slot of an active
// reservation, and returns unsaved reservations for the rest.
func planGap(contractID string, slots []models.Slot, existing []models.Reservation) []models.Reservation {
	taken := make(map[string]struct{}, len(existing)*2)
	for i := range existing {
		taken[existing[i].ScheduledSlot().Key()] = struct{}{}
		if !existing[i].Voided {
			taken[existing[i].Slot().Key()] = struct{}{}
		}
	}
	gap := make([]models.Reservation, 0, len(slots))
	for _, slot := range slots {
		if _, ok := taken[slot.Key()]; ok {
			continue
		}
		gap = append(gap, models.NewReservation(contractID, slot))
	}
	return gap
}
