package recordings

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// WriteWAV writes mono 16-bit PCM as a canonical 44-byte-header WAV stream.
func WriteWAV(w io.Writer, pcm []int16, sampleRate int) error {
	bw := bufio.NewWriter(w)
	dataSize := uint32(len(pcm) * 2)

	header := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),             // fmt chunk size
		uint16(1),              // PCM
		uint16(1),              // mono
		uint32(sampleRate),     // sample rate
		uint32(sampleRate * 2), // byte rate
		uint16(2),              // block align
		uint16(16),             // bits per sample
		[]byte("data"),
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, pcm); err != nil {
		return err
	}
	return bw.Flush()
}

// WAVInfo is the subset of a WAV header the tests and listings care about.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Bits       int
	Samples    int
}

// ReadWAVInfo parses a canonical PCM WAV header.
func ReadWAVInfo(r io.Reader) (WAVInfo, error) {
	var hdr [44]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return WAVInfo{}, err
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" || string(hdr[36:40]) != "data" {
		return WAVInfo{}, errors.New("not a canonical wav file")
	}
	le := binary.LittleEndian
	info := WAVInfo{
		Channels:   int(le.Uint16(hdr[22:24])),
		SampleRate: int(le.Uint32(hdr[24:28])),
		Bits:       int(le.Uint16(hdr[34:36])),
	}
	dataSize := int(le.Uint32(hdr[40:44]))
	if info.Bits > 0 && info.Channels > 0 {
		info.Samples = dataSize / (info.Bits / 8) / info.Channels
	}
	return info, nil
}
