package tool

import "testing"

func TestConfirmReason_Proceeds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason ConfirmReason
		want   bool
	}{
		{Denied(), false},
		{Skipped(), false},
		{NotNeeded(), true},
		{UserApproved(), true},
		{SettingDriven("chat.tools.autoApprove"), true},
		{ConfirmReason{}, false},
	}
	for _, tt := range tests {
		if got := tt.reason.Proceeds(); got != tt.want {
			t.Errorf("%v.Proceeds() = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestConfirmReason_String(t *testing.T) {
	t.Parallel()

	if got := SettingDriven("x.y").String(); got != "setting:x.y" {
		t.Fatalf("String = %q", got)
	}
	if got := Skipped().String(); got != "skipped" {
		t.Fatalf("String = %q", got)
	}
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	for word, want := range map[string]ConfirmKind{
		"approve": ConfirmUserApproved,
		"skip":    ConfirmSkipped,
		"deny":    ConfirmDenied,
	} {
		got, ok := ParseDecision(word)
		if !ok || got.Kind != want {
			t.Errorf("ParseDecision(%q) = %v, %v; want %v", word, got, ok, want)
		}
	}
	if _, ok := ParseDecision("maybe"); ok {
		t.Error("unknown word should not parse")
	}
}
