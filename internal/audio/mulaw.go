package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawEncode compresses one 16-bit linear PCM sample to G.711 mu-law.
func MulawEncode(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mantissa := (s >> (exp + 3)) & 0x0f
	return ^byte(sign | exp<<4 | mantissa)
}

// MulawDecode expands one G.711 mu-law byte to 16-bit linear PCM.
func MulawDecode(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exp := int(u>>4) & 0x07
	mantissa := int(u & 0x0f)
	s := ((mantissa << 3) + mulawBias) << exp
	s -= mulawBias
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}
