package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// TestPitchRoundTrip checks spec.md section 8's pitch round-trip invariant:
// percentage_to_pitch(pitch_to_percentage(p)) == p for every p in [0, 2097152].
func TestPitchRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.Uint32Range(0, PitchMax).Draw(t, "raw")
		pct := PitchToPercentage(raw)
		got := PercentageToPitch(pct)
		if got != raw {
			t.Fatalf("PercentageToPitch(PitchToPercentage(%d)) = %d, want %d", raw, got, raw)
		}
	})
}

// TestHalfFrameRoundTrip checks spec.md section 8's half-frame round-trip
// invariant: for every ms t <= 2^31/15*100, half_frame_to_ms(time_to_half_frame(t))
// differs from t by at most 6ms (one half-frame).
func TestHalfFrameRoundTrip(t *testing.T) {
	const maxMs = uint64((1 << 31) / 15 * 100)
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.Uint64Range(0, maxMs).Draw(t, "ms")
		got := HalfFrameToMs(TimeToHalfFrame(ms))
		diff := int64(got) - int64(ms)
		if diff < 0 {
			diff = -diff
		}
		if diff > 6 {
			t.Fatalf("HalfFrameToMs(TimeToHalfFrame(%d)) = %d, differs by %d ms (> 6)", ms, got, diff)
		}
	})
}

// TestDecodeDeterministic checks spec.md section 8: decode(P) is
// deterministic in the bytes and receive-port only.
func TestDecodeDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		length := rapid.IntRange(0, 130).Draw(t, "length")
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(rapid.IntRange(0, 255).Draw(t, "byte"))
		}
		port := rapid.SampledFrom([]int{PortAnnouncement, PortBeat, PortStatus}).Draw(t, "port")

		p1, e1 := Decode(data, port)
		p2, e2 := Decode(data, port)
		if (e1 == nil) != (e2 == nil) {
			t.Fatalf("Decode() not deterministic: err1=%v err2=%v", e1, e2)
		}
		if e1 == nil && p1.Type() != p2.Type() {
			t.Fatalf("Decode() not deterministic: type1=%v type2=%v", p1.Type(), p2.Type())
		}
	})
}
