package edition

import "testing"

func TestBusinessDaysBetween(t *testing.T) {
	cases := []struct {
		from, to string
		want     int
		back     int // BusinessDaysBetween(to, from)
	}{
		{"07-07-2025", "11-07-2025", 4, -4}, // Mon -> Fri
		{"18-07-2025", "21-07-2025", 1, -1}, // Fri -> Mon
		{"18-07-2025", "19-07-2025", 0, -1}, // Fri -> Sat
		{"17-07-2025", "19-07-2025", 1, -2}, // Thu -> Sat special edition
		{"07-07-2025", "07-07-2025", 0, 0},
		{"07-07-2025", "14-07-2025", 5, -5},
		{"30-06-2025", "01-07-2025", 1, -1},
	}
	for _, c := range cases {
		from, to := MustParseDate(c.from), MustParseDate(c.to)
		if got := BusinessDaysBetween(from, to); got != c.want {
			t.Errorf("BusinessDaysBetween(%s, %s) = %d, want %d", c.from, c.to, got, c.want)
		}
		if got := BusinessDaysBetween(to, from); got != c.back {
			t.Errorf("BusinessDaysBetween(%s, %s) = %d, want %d", c.to, c.from, got, c.back)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("21-07-2025")
	if err != nil {
		t.Fatal(err)
	}
	if d.String() != "21-07-2025" {
		t.Errorf("round trip = %s", d)
	}
	if !d.IsBusinessDay() {
		t.Error("21-07-2025 is a Monday")
	}
	for _, bad := range []string{"2025-07-21", "32-01-2025", "", "21/07/2025"} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) should fail", bad)
		}
	}
}

func TestRange(t *testing.T) {
	got := Range(MustParseDate("30-06-2025"), MustParseDate("02-07-2025"))
	if len(got) != 3 || got[0].String() != "30-06-2025" || got[2].String() != "02-07-2025" {
		t.Errorf("Range = %v", got)
	}
	if len(Range(MustParseDate("02-07-2025"), MustParseDate("01-07-2025"))) != 0 {
		t.Error("reversed range should be empty")
	}
}
