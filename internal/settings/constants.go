package settings

// Settings table keys for the runtime tunables.
const (
	// FeeCycleMonthsKey controls the length of a card fee cycle in months.
	FeeCycleMonthsKey = "FEE_CYCLE_MONTHS"
	// ReminderIntervalHoursKey controls the minimum gap between reminders.
	ReminderIntervalHoursKey = "REMINDER_INTERVAL_HOURS"
	// ReminderGraceDaysKey bounds how far past due a state is still scanned.
	ReminderGraceDaysKey = "REMINDER_GRACE_DAYS"
	// MaxRemindersKey caps reminders per fee cycle.
	MaxRemindersKey = "MAX_REMINDERS"
	// CardsPerBedroomKey sets the per-bedroom card capacity multiplier.
	CardsPerBedroomKey = "CARDS_PER_BEDROOM"
	// DefaultUnitCapacityKey sets capacity for units without a bedroom count.
	DefaultUnitCapacityKey = "DEFAULT_UNIT_CAPACITY"
	// CallbackLogRetentionDaysKey controls payment callback log retention.
	CallbackLogRetentionDaysKey = "CALLBACK_LOG_RETENTION_DAYS"
)

// Fallbacks used when a key has no row or holds an unusable value.
const (
	defaultFeeCycleMonths           = 30
	defaultReminderIntervalHours    = 24
	defaultReminderGraceDays        = 6
	defaultMaxReminders             = 6
	defaultCardsPerBedroom          = 2
	defaultUnitCapacity             = 4
	defaultCallbackLogRetentionDays = 90
)
