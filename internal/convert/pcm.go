package convert

import (
	"time"
)

// framesFor converts a duration to a whole number of frames
func framesFor(d time.Duration, sampleRate int) int {
	if d <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// trim keeps interleaved frames [from, to). to <= 0 keeps through the end.
func trim(samples []int16, channels, from, to int) []int16 {
	frames := len(samples) / channels
	if from > frames {
		from = frames
	}
	if to <= 0 || to > frames {
		to = frames
	}
	if to < from {
		to = from
	}
	return samples[from*channels : to*channels]
}

// remix changes the channel count. Downmixing averages channels, upmixing
// copies the mono signal (or the average) into every output channel.
func remix(samples []int16, from, to int) []int16 {
	if from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < from; c++ {
			sum += int(samples[f*from+c])
		}
		mixed := int16(sum / from)
		for c := 0; c < to; c++ {
			out[f*to+c] = mixed
		}
	}
	return out
}

// resample converts the sample rate with linear interpolation
func resample(samples []int16, channels, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}
	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]int16, outFrames*channels)

	step := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := i + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(samples[i*channels+c])
			b := float64(samples[next*channels+c])
			out[f*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}
