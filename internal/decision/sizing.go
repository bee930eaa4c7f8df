package decision

// TargetQuantity is direction times the volatility-parity size factor.
// Its sign always matches the signal.
func TargetQuantity(sig Signal, sizeFactor float64) float64 {
	if sig == Flat {
		return 0
	}
	return sig.Direction() * sizeFactor
}
