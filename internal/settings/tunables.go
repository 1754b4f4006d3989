package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// The engine's tunables live in the settings table and are served from an
// in-memory snapshot, so the reminder sweep and capacity checks never touch
// the database for configuration. The snapshot is replaced at startup and
// whenever an admin saves a setting.
type tunableSnapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var currentTunables atomic.Value // stores tunableSnapshot

func init() {
	currentTunables.Store(tunableSnapshot{values: map[string]json.RawMessage{}})
}

// FeeCycleMonths is the length of a card fee period.
func FeeCycleMonths() int {
	return positiveInt(FeeCycleMonthsKey, defaultFeeCycleMonths)
}

// ReminderIntervalHours is the minimum gap between two reminders for a card.
func ReminderIntervalHours() int {
	return positiveInt(ReminderIntervalHoursKey, defaultReminderIntervalHours)
}

// ReminderGraceDays bounds how far past due a card is still reminded before
// it is suspended.
func ReminderGraceDays() int {
	return positiveInt(ReminderGraceDaysKey, defaultReminderGraceDays)
}

// MaxReminders caps reminders per fee cycle.
func MaxReminders() int {
	return positiveInt(MaxRemindersKey, defaultMaxReminders)
}

// CardsPerBedroom is the per-bedroom card capacity multiplier.
func CardsPerBedroom() int {
	return positiveInt(CardsPerBedroomKey, defaultCardsPerBedroom)
}

// DefaultUnitCapacity applies to units without a bedroom count.
func DefaultUnitCapacity() int {
	return positiveInt(DefaultUnitCapacityKey, defaultUnitCapacity)
}

// CallbackLogRetentionDays is how long payment callback logs are kept.
func CallbackLogRetentionDays() int {
	return positiveInt(CallbackLogRetentionDaysKey, defaultCallbackLogRetentionDays)
}

// replaceSnapshot swaps in a fresh copy of the DB values.
func replaceSnapshot(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if v == nil {
			next[key] = nil
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}

	currentTunables.Store(tunableSnapshot{
		updatedAt: updatedAt.UTC(),
		values:    next,
	})
}

func rawValue(key string) (json.RawMessage, bool) {
	snap, ok := currentTunables.Load().(tunableSnapshot)
	if !ok || snap.values == nil {
		return nil, false
	}
	val, found := snap.values[strings.TrimSpace(key)]
	if !found {
		return nil, false
	}
	return val, true
}

// positiveInt parses a tunable as a positive integer, falling back when the
// key is absent, malformed or non-positive.
func positiveInt(key string, fallback int) int {
	raw, ok := rawValue(key)
	if !ok {
		return fallback
	}
	parsed, okParse := parseTunableInt(raw)
	if !okParse || parsed <= 0 {
		return fallback
	}
	return parsed
}

// parseTunableInt accepts the value shapes admins have historically stored:
// a bare number, a quoted number, or a {"value": ...} wrapper.
func parseTunableInt(raw json.RawMessage) (int, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(s))
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseTunableInt(wrapper.Value)
	}
	return 0, false
}
