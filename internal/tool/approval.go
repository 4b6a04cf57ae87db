package tool

// ConfirmationMessages are shown to the user before a call runs.
type ConfirmationMessages struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Disclaimer string `json:"disclaimer,omitempty"`

	// AllowAutoConfirm lets the user approve future calls of the same tool.
	AllowAutoConfirm bool `json:"allowAutoConfirm,omitempty"`

	// ConfirmResults requests a second approval gate on the result.
	ConfirmResults bool `json:"confirmResults,omitempty"`
}

// ConfirmKind records why a call proceeded or stopped.
type ConfirmKind string

// ConfirmKind values.
const (
	ConfirmDenied        ConfirmKind = "denied"
	ConfirmNotNeeded     ConfirmKind = "notNeeded"
	ConfirmSettingDriven ConfirmKind = "setting"
	ConfirmUserApproved  ConfirmKind = "userAction"
	ConfirmSkipped       ConfirmKind = "skipped"
)

// ConfirmReason is a confirmation decision. SettingID is only set for
// ConfirmSettingDriven.
type ConfirmReason struct {
	Kind      ConfirmKind `json:"type"`
	SettingID string      `json:"id,omitempty"`
}

// Denied returns the Denied decision.
func Denied() ConfirmReason { return ConfirmReason{Kind: ConfirmDenied} }

// NotNeeded returns the ConfirmationNotNeeded decision.
func NotNeeded() ConfirmReason { return ConfirmReason{Kind: ConfirmNotNeeded} }

// SettingDriven returns a decision made by the named setting.
func SettingDriven(settingID string) ConfirmReason {
	return ConfirmReason{Kind: ConfirmSettingDriven, SettingID: settingID}
}

// UserApproved returns the decision of an explicit user approval.
func UserApproved() ConfirmReason { return ConfirmReason{Kind: ConfirmUserApproved} }

// Skipped returns the Skipped decision.
func Skipped() ConfirmReason { return ConfirmReason{Kind: ConfirmSkipped} }

// Proceeds reports whether the decision lets the call continue.
func (r ConfirmReason) Proceeds() bool {
	return r.Kind != ConfirmDenied && r.Kind != ConfirmSkipped && r.Kind != ""
}

func (r ConfirmReason) String() string {
	if r.Kind == ConfirmSettingDriven && r.SettingID != "" {
		return string(r.Kind) + ":" + r.SettingID
	}
	return string(r.Kind)
}

// ParseDecision maps a user-facing decision word to a reason. It
// accepts approve, skip and deny.
func ParseDecision(word string) (ConfirmReason, bool) {
	switch word {
	case "approve", "allow", "yes":
		return UserApproved(), true
	case "skip":
		return Skipped(), true
	case "deny", "no":
		return Denied(), true
	default:
		return ConfirmReason{}, false
	}
}
