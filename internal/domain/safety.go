package domain

import (
	"fmt"
	"strconv"
)

// SafetyState is the backend-declared escalation tier.
type SafetyState int

const (
	// SafetyNormal is tier 1.
	SafetyNormal SafetyState = 1
	// SafetyMildConcern is tier 2.
	SafetyMildConcern SafetyState = 2
	// SafetyHighStress is tier 3.
	SafetyHighStress SafetyState = 3
	// SafetyKillSwitch halts all audio until a caregiver reset.
	SafetyKillSwitch SafetyState = 4
)

const killSwitchValue = "kill"

// SafetyFromTier maps a wire tier (1-3) to a SafetyState.
func SafetyFromTier(tier int) (SafetyState, error) {
	switch tier {
	case 1:
		return SafetyNormal, nil
	case 2:
		return SafetyMildConcern, nil
	case 3:
		return SafetyHighStress, nil
	}
	return 0, fmt.Errorf("invalid intervention tier %d", tier)
}

// String returns the persisted form: "1".."3" or "kill".
func (s SafetyState) String() string {
	if s == SafetyKillSwitch {
		return killSwitchValue
	}
	return strconv.Itoa(int(s))
}

// Label is the dashboard-facing name of the state.
func (s SafetyState) Label() string {
	switch s {
	case SafetyNormal:
		return "normal"
	case SafetyMildConcern:
		return "mild_concern"
	case SafetyHighStress:
		return "high_stress"
	case SafetyKillSwitch:
		return "kill_switch"
	}
	return "unknown"
}

// ParseSafetyState parses the persisted form. Empty input is Normal.
func ParseSafetyState(v string) (SafetyState, error) {
	switch v {
	case "":
		return SafetyNormal, nil
	case killSwitchValue:
		return SafetyKillSwitch, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse safety state %q: %w", v, err)
	}
	return SafetyFromTier(n)
}
