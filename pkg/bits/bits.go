package bits

// Bit returns a byte with only the n-th bit set (1 to 8).
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet checks if the n-th bit is set (1 to 8).
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// Set activates the n-th bit.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// GetRange extracts the value from a range of bits (e.g., bits 4 to 3).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11)
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// IsSet16 checks if the n-th bit of a 16-bit value is set (1 to 16).
// FeliCa node codes are 16-bit quantities, so the byte helpers above
// do not cover attribute checks on full codes.
func IsSet16(v uint16, n uint) bool {
	if n < 1 || n > 16 {
		return false
	}
	return v&(1<<(n-1)) != 0
}

// GetRange16 extracts the value from a range of bits of a 16-bit value
// (bits 1 to 16, high inclusive).
// Example: GetRange16(0b0000000000110000, 6, 5) returns 3 (0b11)
func GetRange16(v uint16, high, low uint) uint16 {
	if high < low || high > 16 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := uint16(1)<<width - 1

	return (v >> (low - 1)) & mask
}
