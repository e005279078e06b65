// Package schedule turns weekly templates into concrete lessons.
//
// A template is validated before it is saved and again before every
// expansion run: slots must have start < end, and two slots on the same day
// at the same location must not overlap. Expansion runs in the schedule
// worker, one transaction per job, and is idempotent so redelivered SQS
// messages do not create duplicates.
package schedule

import (
	"fmt"
	"sort"

	"classbook/internal/types"
)

// ValidateTemplate checks every slot of t. It returns an ErrCodeScheduleConflict
// AppError listing every overlapping pair under Details["conflicts"], or an
// ErrCodeValidationInvalidSlot error for a slot that ends before it starts.
func ValidateTemplate(t *types.ScheduleTemplate) error {
	if t == nil {
		return types.NewAppError(types.ErrCodeValidationMissingField, "template is required", nil)
	}
	if t.DefaultClassOptionID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "default_class_option_id is required", nil)
	}
	if t.EndDate.Before(t.StartDate) {
		return types.NewAppError(types.ErrCodeValidationInvalidRange, "end_date is before start_date", nil)
	}
	if t.DefaultLockOutMinutes < 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidSlot, "default_lock_out_minutes must not be negative", nil)
	}

	for day, slots := range t.Days {
		for i, s := range slots {
			if s.Start >= s.End {
				return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSlot,
					fmt.Sprintf("slot %s-%s on weekday %d must start before it ends", s.Start, s.End, day),
					nil, map[string]any{"weekday": day, "slot": i})
			}
			if s.LockOutMinutes != nil && *s.LockOutMinutes < 0 {
				return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSlot,
					"lock_out_minutes must not be negative", nil, map[string]any{"weekday": day, "slot": i})
			}
		}
	}

	conflicts := FindConflicts(t)
	if len(conflicts) > 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeScheduleConflict,
			fmt.Sprintf("template has %d overlapping slot pair(s)", len(conflicts)),
			nil, map[string]any{"conflicts": conflicts})
	}
	return nil
}

// FindConflicts lists every pair of slots on the same weekday and location
// whose half-open ranges intersect. Inactive slots are checked too, since
// they can be re-enabled without revalidation. Pairs are reported in weekday
// order, then by start time.
func FindConflicts(t *types.ScheduleTemplate) []types.SlotConflict {
	var conflicts []types.SlotConflict
	for day, slots := range t.Days {
		byLocation := make(map[string][]types.TimeSlot)
		var keys []string
		for _, s := range slots {
			k := s.LocationKey()
			if _, ok := byLocation[k]; !ok {
				keys = append(keys, k)
			}
			byLocation[k] = append(byLocation[k], s)
		}
		sort.Strings(keys)

		for _, k := range keys {
			group := byLocation[k]
			sort.SliceStable(group, func(i, j int) bool { return group[i].Start < group[j].Start })
			for i := 0; i < len(group); i++ {
				for j := i + 1; j < len(group); j++ {
					if overlaps(group[i], group[j]) {
						conflicts = append(conflicts, types.SlotConflict{
							Weekday:  day,
							Location: k,
							First:    types.TimeRange{Start: group[i].Start, End: group[i].End},
							Second:   types.TimeRange{Start: group[j].Start, End: group[j].End},
						})
					}
				}
			}
		}
	}
	return conflicts
}

// overlaps reports whether [a.Start, a.End) and [b.Start, b.End) intersect.
// Back-to-back slots do not overlap.
func overlaps(a, b types.TimeSlot) bool {
	return a.Start < b.End && b.Start < a.End
}
