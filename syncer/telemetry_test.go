package syncer

import "testing"

func sampleWithTotal(totalMs int64) LatencySample {
	return LatencySample{
		EventTs:    1_000,
		RecvTs:     1_000,
		DecisionTs: 1_000,
		SubmitTs:   1_000,
		AckTs:      1_000 + totalMs,
	}
}

func TestTelemetryDurations(t *testing.T) {
	tel := NewTelemetry(1000)
	tel.Record(LatencySample{
		EventTs:    1_000,
		RecvTs:     1_050,
		DecisionTs: 1_060,
		SubmitTs:   1_070,
		AckTs:      1_100,
	})

	s := tel.Summary()
	if s.Count != 1 {
		t.Fatalf("count = %d", s.Count)
	}
	if s.TotalP50 != 100 {
		t.Errorf("totalP50 = %v, want 100", s.TotalP50)
	}
	if s.DecisionP50 != 10 {
		t.Errorf("decisionP50 = %v, want 10", s.DecisionP50)
	}
	if s.SubmitP50 != 10 {
		t.Errorf("submitP50 = %v, want 10", s.SubmitP50)
	}
	if s.AckP50 != 30 {
		t.Errorf("ackP50 = %v, want 30", s.AckP50)
	}
}

func TestTelemetryUnknownEventTs(t *testing.T) {
	tel := NewTelemetry(1000)
	tel.Record(LatencySample{
		RecvTs:     2_000,
		DecisionTs: 2_010,
		SubmitTs:   2_010,
		AckTs:      2_040,
	})

	s := tel.Summary()
	if s.TotalP50 != 40 {
		t.Errorf("totalP50 = %v, unknown eventTs falls back to recvTs", s.TotalP50)
	}
}

func TestTelemetryPercentiles(t *testing.T) {
	tel := NewTelemetry(1000)
	for i := int64(1); i <= 100; i++ {
		tel.Record(sampleWithTotal(i))
	}

	s := tel.Summary()
	if !floatEquals(s.TotalP50, 50, 1.0) {
		t.Errorf("p50 = %v, want ~50", s.TotalP50)
	}
	if !floatEquals(s.TotalP90, 90, 1.0) {
		t.Errorf("p90 = %v, want ~90", s.TotalP90)
	}
	if !floatEquals(s.TotalP99, 99, 1.0) {
		t.Errorf("p99 = %v, want ~99", s.TotalP99)
	}
}

func TestTelemetryRingWraparound(t *testing.T) {
	tel := NewTelemetry(1_000_000)
	for i := 0; i < ringCapacity+500; i++ {
		tel.Record(sampleWithTotal(int64(i)))
	}

	if tel.Count() != int64(ringCapacity+500) {
		t.Errorf("count = %d, total keeps growing past the ring", tel.Count())
	}

	// The retained window holds only the newest ringCapacity samples (totals
	// 500 and up), so the median must sit above the overwritten ones.
	s := tel.Summary()
	if s.TotalP50 < 500 {
		t.Errorf("p50 = %v, old samples should have been overwritten", s.TotalP50)
	}
}
