package reminder

import (
	"errors"
	"testing"
	"time"
)

func TestParseName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		id     string
		class  Class
		offset int
		err    error
	}{
		{"conference-iclr-2025-deadline-14", "iclr-2025", ClassDeadline, 14, nil},
		{"conference-DAC-2025-conference-1", "DAC-2025", ClassConference, 1, nil},
		{"conference-isca25-deadline-30", "isca25", ClassDeadline, 30, nil},
		{"backup-nightly", "", "", 0, ErrForeignTimer},
		{"conference-isca25", "", "", 0, ErrBadName},
		{"conference-isca25-keynote-3", "", "", 0, ErrBadName},
		{"conference-isca25-deadline-x", "", "", 0, ErrBadName},
		{"conference--deadline-3", "", "", 0, ErrBadName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			id, class, off, err := ParseName(tc.name)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil || id != tc.id || class != tc.class || off != tc.offset {
				t.Fatalf("got (%q, %q, %d, %v)", id, class, off, err)
			}
		})
	}
}

func TestNameRoundTrip(t *testing.T) {
	t.Parallel()
	r := Scheduled{SubscriptionID: "iclr-2025", Class: ClassConference, OffsetDays: 7, FiresAt: time.Now()}
	if r.Key() != "iclr-2025-conference-7" || r.Name() != "conference-iclr-2025-conference-7" {
		t.Fatalf("key=%q name=%q", r.Key(), r.Name())
	}
	id, class, off, err := ParseName(r.Name())
	if err != nil || id != r.SubscriptionID || class != r.Class || off != r.OffsetDays {
		t.Fatalf("ParseName(Name()) = %q %q %d %v", id, class, off, err)
	}
}

func TestOwnedBy(t *testing.T) {
	t.Parallel()
	if !OwnedBy("conference-iclr-deadline-7", "iclr") {
		t.Fatal("own timer not matched")
	}
	if !OwnedBy("conference-iclr", "iclr") {
		t.Fatal("legacy name not matched")
	}
	if OwnedBy("conference-iclr-2025-deadline-7", "iclr") {
		t.Fatal("timer of iclr-2025 matched iclr")
	}
}
