package ohloss

// ExpiryLedger computes the exclusive ledger bound for an authorization that
// should stay valid for ttlMinutes, given the network's current height and
// its reported average ledger close time. The division rounds up so a short
// close time never undercuts the requested TTL.
func ExpiryLedger(height uint32, ttlMinutes int, closeSeconds float64) uint32 {
	if ttlMinutes <= 0 {
		return height
	}
	if closeSeconds <= 0 {
		closeSeconds = 5 // network default when the node reports nothing useful
	}
	secs := float64(ttlMinutes) * 60
	ledgers := uint32(secs / closeSeconds)
	if float64(ledgers)*closeSeconds < secs {
		ledgers++
	}
	return height + ledgers
}

// IsExpired reports whether an authorization with the given exclusive expiry
// bound is stale at the given ledger height. The bound itself is stale:
// height == expiry-1 is the last usable ledger.
func IsExpired(expiry, height uint32) bool {
	return height >= expiry
}
