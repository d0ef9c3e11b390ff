// Package keys builds every Redis key the service reads or writes, so the
// namespace stays in one place.
package keys

const (
	lockSlotPrefix       = "lock:slot:"
	lockBookingPrefix    = "lock:booking:"
	lockConsultantPrefix = "lock:consultant:"
	lockJobPrefix        = "lock:job:"

	slotCachePrefix    = "booking:slot:"
	bookingCachePrefix = "booking:"

	rateLimitIPPrefix   = "ratelimit:ip:"
	rateLimitUserPrefix = "ratelimit:user:"

	idempotencyPrefix = "idempotency:"

	RemindersDue     = "reminders:due"
	RemindersPending = "reminders:pending"
)

func SlotLock(slotID string) string {
	return lockSlotPrefix + slotID
}

func BookingLock(bookingID string) string {
	return lockBookingPrefix + bookingID
}

func ConsultantLock(consultantID string) string {
	return lockConsultantPrefix + consultantID
}

func JobLock(jobName string) string {
	return lockJobPrefix + jobName
}

// SlotCache is the cached read model of a slot.
func SlotCache(slotID string) string {
	return slotCachePrefix + slotID
}

func BookingCache(bookingID string) string {
	return bookingCachePrefix + bookingID
}

func RateLimitIP(ip string) string {
	return rateLimitIPPrefix + ip
}

func RateLimitUser(userID string) string {
	return rateLimitUserPrefix + userID
}

func Idempotency(key string) string {
	return idempotencyPrefix + key
}
