package audio

// resampler converts interleaved PCM16 samples at an input rate/channel
// count down to mono PCM16 at the target rate using linear interpolation.
// Good enough for speech capture; not a general-purpose DSP resampler.
type resampler struct {
	inRate, outRate int
	inChannels      int

	// carry holds the last input sample (already downmixed to mono) from the
	// previous call, so interpolation is continuous across callback
	// boundaries.
	haveCarry bool
	carry     int16
	pos       float64
}

func newResampler(inRate, outRate, inChannels int) *resampler {
	if inChannels < 1 {
		inChannels = 1
	}
	return &resampler{inRate: inRate, outRate: outRate, inChannels: inChannels}
}

// process takes a raw little-endian PCM16 byte buffer at the configured
// input rate/channels and returns mono PCM16 bytes at the output rate.
func (r *resampler) process(in []byte) []byte {
	mono := r.downmix(in)
	if r.inRate == r.outRate {
		return int16sToBytes(mono)
	}
	return int16sToBytes(r.linearResample(mono))
}

func (r *resampler) downmix(in []byte) []int16 {
	frameBytes := 2 * r.inChannels
	n := len(in) / frameBytes
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < r.inChannels; c++ {
			off := i*frameBytes + c*2
			sum += int32(int16(uint16(in[off]) | uint16(in[off+1])<<8))
		}
		out[i] = int16(sum / int32(r.inChannels))
	}
	return out
}

func (r *resampler) linearResample(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	ratio := float64(r.inRate) / float64(r.outRate)

	ext := in
	if r.haveCarry {
		ext = append([]int16{r.carry}, in...)
	}

	var out []int16
	pos := r.pos
	for {
		i0 := int(pos)
		if i0+1 >= len(ext) {
			break
		}
		frac := pos - float64(i0)
		s := float64(ext[i0])*(1-frac) + float64(ext[i0+1])*frac
		out = append(out, int16(s))
		pos += ratio
	}

	consumed := len(ext) - 1
	r.pos = pos - float64(consumed)
	r.carry = ext[len(ext)-1]
	r.haveCarry = true
	return out
}

func int16sToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		out[2*i] = byte(uint16(s))
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
