package speaker_test

import (
	"testing"

	"github.com/MrWong99/voxlabel/internal/speaker"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values speaker.Values
		want   []speaker.Field
	}{
		{name: "blank is valid", values: speaker.Values{}},
		{name: "two characters", values: speaker.Values{Name: "Al", Role: "PM"}},
		{name: "single character name", values: speaker.Values{Name: "A"}, want: []speaker.Field{speaker.FieldName}},
		{name: "single character role", values: speaker.Values{Name: "Alice", Role: "x"}, want: []speaker.Field{speaker.FieldRole}},
		{name: "padded single character", values: speaker.Values{Name: "  A  "}, want: []speaker.Field{speaker.FieldName}},
		{name: "whitespace only", values: speaker.Values{Role: "   "}, want: []speaker.Field{speaker.FieldRole}},
		{name: "both too short", values: speaker.Values{Name: "A", Role: "B"}, want: []speaker.Field{speaker.FieldName, speaker.FieldRole}},
		{name: "multibyte counts runes", values: speaker.Values{Name: "Jö"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := speaker.Validate(tc.values)
			if len(got) != len(tc.want) {
				t.Fatalf("Validate(%+v) = %v, want fields %v", tc.values, got, tc.want)
			}
			for i, fe := range got {
				if fe.Field != tc.want[i] {
					t.Errorf("error[%d].Field = %q, want %q", i, fe.Field, tc.want[i])
				}
				if fe.Message == "" {
					t.Errorf("error[%d].Message is empty", i)
				}
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	t.Parallel()

	t.Run("all valid returns empty map", func(t *testing.T) {
		t.Parallel()
		got := speaker.ValidateAll([]speaker.Mapping{
			{SpeakerID: "Speaker 1", Name: "Alice"},
			{SpeakerID: "Speaker 2"},
		})
		if got == nil {
			t.Fatal("ValidateAll: expected non-nil map")
		}
		if len(got) != 0 {
			t.Fatalf("ValidateAll: expected no errors, got %v", got)
		}
	})

	t.Run("keys failures by speaker", func(t *testing.T) {
		t.Parallel()
		got := speaker.ValidateAll([]speaker.Mapping{
			{SpeakerID: "Speaker 1", Name: "Alice"},
			{SpeakerID: "Speaker 2", Name: "B", Role: "C"},
		})
		if len(got) != 1 {
			t.Fatalf("ValidateAll: expected 1 failing speaker, got %d", len(got))
		}
		if n := len(got["Speaker 2"]); n != 2 {
			t.Fatalf("ValidateAll: expected 2 errors for Speaker 2, got %d", n)
		}
	})
}

func TestValidate_BlankThenTooShort(t *testing.T) {
	t.Parallel()

	s := speaker.NewStore("t1")
	s.Initialize([]string{"Speaker 1"}, nil, "t1")

	m, _ := s.Lookup("Speaker 1")
	if errs := speaker.Validate(m.Values()); len(errs) != 0 {
		t.Fatalf("Validate blank mapping: expected no errors, got %v", errs)
	}

	if err := s.Update("Speaker 1", speaker.FieldName, "A"); err != nil {
		t.Fatalf("Update: unexpected error: %v", err)
	}
	m, _ = s.Lookup("Speaker 1")
	errs := speaker.Validate(m.Values())
	if len(errs) != 1 || errs[0].Field != speaker.FieldName {
		t.Fatalf("Validate after update: expected one name error, got %v", errs)
	}
}
