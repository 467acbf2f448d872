// Package audio holds the PCM format shared by the capture client and the
// transcription server, and the WAV container used to ship clips between them.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Capture format. Clips are mono 16-bit PCM at 16 kHz, the rate speech
// models are trained on.
const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8

	// WAVHeaderSize is the size of a canonical PCM WAV header.
	WAVHeaderSize = 44
)

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a WAV file")

// Format describes a PCM stream.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16

	// DataSize is the length of the PCM payload in bytes.
	DataSize uint32
}

// ByteRate returns bytes of audio per second.
func (f Format) ByteRate() uint32 {
	return f.SampleRate * uint32(f.Channels) * uint32(f.BitsPerSample/8)
}

// Duration returns the playback length of the payload.
func (f Format) Duration() time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(uint64(f.DataSize) * uint64(time.Second) / uint64(rate))
}

// EncodeWAV wraps little-endian 16-bit PCM in a canonical WAV header.
func EncodeWAV(pcm []byte, sampleRate uint32, channels uint16) []byte {
	buf := make([]byte, WAVHeaderSize+len(pcm))
	blockAlign := channels * BytesPerSample

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(WAVHeaderSize-8+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// ParseWAV reads the format of a WAV file. It walks the RIFF chunks so
// files with extra chunks (LIST, fact) before "data" are accepted.
func ParseWAV(data []byte) (Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Format{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if binary.LittleEndian.Uint16(data[body:body+2]) != 1 {
				return Format{}, fmt.Errorf("%w: not PCM", ErrNotWAV)
			}
			f.Channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			f.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			f.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, fmt.Errorf("%w: data chunk before fmt", ErrNotWAV)
			}
			// Streaming writers leave the size unset; trust the bytes we have.
			avail := uint32(len(data) - body)
			if size == 0 || size > avail {
				size = avail
			}
			f.DataSize = size
			return f, nil
		}

		pos = body + int(size) + int(size&1)
	}

	return Format{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// EstimateDuration guesses the length of an unknown clip of n bytes
// assuming raw capture-format PCM.
func EstimateDuration(n int) time.Duration {
	f := Format{SampleRate: SampleRate, Channels: Channels, BitsPerSample: BitsPerSample, DataSize: uint32(n)}
	return f.Duration()
}
