package service

// FeeCalculator splits a gross amount into platform fee and merchant
// net. Pure integer math on the smallest currency unit; fee + net is
// always exactly gross.
type FeeCalculator struct {
	basisPoints int64
}

// NewFeeCalculator creates a calculator for a fixed rate in basis
// points (500 = 5%).
func NewFeeCalculator(basisPoints int) *FeeCalculator {
	if basisPoints < 0 {
		basisPoints = 0
	}
	if basisPoints > 10000 {
		basisPoints = 10000
	}
	return &FeeCalculator{basisPoints: int64(basisPoints)}
}

// Split returns (platformFee, merchantNet) for a gross amount. The
// fee is rounded half-up; net is derived by subtraction so the two
// always conserve the gross.
func (f *FeeCalculator) Split(gross int64) (int64, int64) {
	if gross <= 0 {
		return 0, gross
	}
	fee := (gross*f.basisPoints + 5000) / 10000
	if fee > gross {
		fee = gross
	}
	return fee, gross - fee
}
