package core

// String helpers for code that also builds under TinyGo without fmt

// appendUint appends the decimal form of n to buf
func appendUint(buf []byte, n uint32) []byte {
	var digits [10]byte
	i := len(digits)
	for {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(buf, digits[i:]...)
}

// appendInt appends the decimal form of n to buf
func appendInt(buf []byte, n int) []byte {
	if n < 0 {
		buf = append(buf, '-')
		return appendUint(buf, uint32(-int64(n)))
	}
	return appendUint(buf, uint32(n))
}

func itoa(n int) string {
	return string(appendInt(nil, n))
}

func utoa(n uint32) string {
	return string(appendUint(nil, n))
}

// valueToString formats a dictionary constant
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case int32:
		return itoa(int(val))
	case uint8:
		return utoa(uint32(val))
	case uint32:
		return utoa(val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}
