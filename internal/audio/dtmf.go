package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	SampleRate    = 8000
	ToneDuration  = 200 * time.Millisecond
	ToneAmplitude = 8000.0
	ToneGap       = 120 * time.Millisecond
)

// ToneSamples is the number of samples in one keypad burst.
const ToneSamples = SampleRate * int(ToneDuration/time.Millisecond) / 1000

var ErrUnknownSymbol = errors.New("unknown keypad symbol")

type freqPair struct {
	low, high float64
}

var keypad = map[rune]freqPair{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477}, 'A': {697, 1633},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477}, 'B': {770, 1633},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477}, 'C': {852, 1633},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477}, 'D': {941, 1633},
}

// Frequencies returns the row and column frequency for a keypad symbol.
func Frequencies(symbol rune) (low, high float64, ok bool) {
	p, ok := keypad[normalize(symbol)]
	return p.low, p.high, ok
}

func normalize(r rune) rune {
	if r >= 'a' && r <= 'd' {
		return r - 'a' + 'A'
	}
	return r
}

// ValidDigits reports whether s is non-empty and made only of keypad symbols.
func ValidDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if _, ok := keypad[normalize(r)]; !ok {
			return false
		}
	}
	return true
}

// Tone synthesizes one keypad symbol as mu-law samples at 8 kHz.
func Tone(symbol rune) ([]byte, error) {
	p, ok := keypad[normalize(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}

	out := make([]byte, ToneSamples)
	for i := range out {
		t := float64(i) / SampleRate
		v := ToneAmplitude*math.Sin(2*math.Pi*p.low*t) + ToneAmplitude*math.Sin(2*math.Pi*p.high*t)
		out[i] = MulawEncode(int16(math.Round(v)))
	}
	return out, nil
}

// Tones synthesizes one burst per symbol. Any unknown symbol fails the whole
// sequence before anything is produced.
func Tones(digits string) ([][]byte, error) {
	digits = strings.TrimSpace(digits)
	if digits == "" {
		return nil, fmt.Errorf("%w: empty sequence", ErrUnknownSymbol)
	}
	out := make([][]byte, 0, len(digits))
	for _, r := range digits {
		b, err := Tone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
