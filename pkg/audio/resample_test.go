package audio

import "testing"

func TestDownmixAveragesChannels(t *testing.T) {
	r := newResampler(16000, 16000, 2)
	// Two stereo frames: (100, 200) and (0, 0).
	in := []byte{
		100, 0, 200, 0,
		0, 0, 0, 0,
	}
	out := r.downmix(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0] != 150 {
		t.Errorf("out[0] = %d, want 150", out[0])
	}
	if out[1] != 0 {
		t.Errorf("out[1] = %d, want 0", out[1])
	}
}

func TestProcessPassthroughWhenRatesMatch(t *testing.T) {
	r := newResampler(16000, 16000, 1)
	in := []byte{10, 0, 20, 0, 30, 0}
	out := r.process(in)
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
}

func TestLinearResampleDownsamplesByHalf(t *testing.T) {
	r := newResampler(32000, 16000, 1)
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i)
	}
	out := r.linearResample(samples)
	if len(out) < 45 || len(out) > 55 {
		t.Errorf("len(out) = %d, want roughly 50 for a 2:1 downsample", len(out))
	}
}

func TestInt16sToBytesRoundTrips(t *testing.T) {
	in := []int16{-1, 0, 1, 32767, -32768}
	b := int16sToBytes(in)
	if len(b) != len(in)*2 {
		t.Fatalf("len(b) = %d, want %d", len(b), len(in)*2)
	}
	back := newResampler(16000, 16000, 1).downmix(b)
	for i := range in {
		if back[i] != in[i] {
			t.Errorf("back[%d] = %d, want %d", i, back[i], in[i])
		}
	}
}
