// Package audio holds the PCM16 helpers shared by the room adapter and the voice providers.
package audio

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// Resample converts mono PCM16 between rates. Integer ratios repeat or decimate
// samples; anything else is linearly interpolated.
func Resample(in []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(in) == 0 {
		return in
	}
	if to > from && to%from == 0 {
		factor := to / from
		out := make([]int16, len(in)*factor)
		for i, s := range in {
			for j := 0; j < factor; j++ {
				out[i*factor+j] = s
			}
		}
		return out
	}
	if from > to && from%to == 0 {
		factor := from / to
		out := make([]int16, len(in)/factor)
		for i := range out {
			out[i] = in[i*factor]
		}
		return out
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}

// Frames splits samples into fixed-size frames, zero-padding the last one.
func Frames(samples []int16, size int) [][]int16 {
	if size <= 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for start := 0; start < len(samples); start += size {
		frame := make([]int16, size)
		copy(frame, samples[start:min(start+size, len(samples))])
		frames = append(frames, frame)
	}
	return frames
}
