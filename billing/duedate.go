package billing

// IsBusinessDay reports whether d is neither a weekend nor a national holiday.
func IsBusinessDay(d Date) bool {
	return !d.IsWeekend() && !IsNationalHoliday(d)
}

// NextBusinessDay rolls d forward, one day at a time, until it lands on a
// business day. A date that already is a business day is returned unchanged,
// so the function is idempotent once resolved. Consecutive holiday+weekend
// runs are handled by construction; there is no roll limit.
func NextBusinessDay(d Date) Date {
	for !IsBusinessDay(d) {
		d = d.AddDays(1)
	}
	return d
}
