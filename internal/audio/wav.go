package audio

import (
	"encoding/binary"
	"io"
)

const wavFormatMulaw = 7

// WriteWAV wraps raw 8 kHz mono mu-law samples in a playable WAVE container.
func WriteWAV(w io.Writer, ulaw []byte) error {
	const (
		channels      = 1
		bitsPerSample = 8
		fmtChunkSize  = 18
		factChunkSize = 4
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := SampleRate * blockAlign
	dataLen := len(ulaw)
	pad := dataLen % 2

	riffSize := 4 + (8 + fmtChunkSize) + (8 + factChunkSize) + (8 + dataLen + pad)

	hdr := make([]byte, 0, 12+8+fmtChunkSize+8+factChunkSize+8)
	hdr = append(hdr, "RIFF"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(riffSize))
	hdr = append(hdr, "WAVE"...)

	hdr = append(hdr, "fmt "...)
	hdr = binary.LittleEndian.AppendUint32(hdr, fmtChunkSize)
	hdr = binary.LittleEndian.AppendUint16(hdr, wavFormatMulaw)
	hdr = binary.LittleEndian.AppendUint16(hdr, channels)
	hdr = binary.LittleEndian.AppendUint32(hdr, SampleRate)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(byteRate))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(blockAlign))
	hdr = binary.LittleEndian.AppendUint16(hdr, bitsPerSample)
	hdr = binary.LittleEndian.AppendUint16(hdr, 0) // cbSize

	hdr = append(hdr, "fact"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, factChunkSize)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(dataLen))

	hdr = append(hdr, "data"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(dataLen))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(ulaw); err != nil {
		return err
	}
	if pad == 1 {
		if _, err := w.Write([]byte{0}); err != nil {
			return err
		}
	}
	return nil
}
