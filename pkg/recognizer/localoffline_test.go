package recognizer

import "testing"

func int16ToBytes(v int16) []byte {
	return []byte{byte(uint16(v)), byte(uint16(v) >> 8)}
}

func TestPcmToFloat32MonoNormalizes(t *testing.T) {
	pcm := append(int16ToBytes(16384), int16ToBytes(-16384)...)
	samples := pcmToFloat32Mono(pcm)
	if len(samples) != 2 {
		t.Fatalf("len(samples) = %d, want 2", len(samples))
	}
	if samples[0] <= 0 || samples[1] >= 0 {
		t.Errorf("samples = %v, want positive then negative", samples)
	}
}
