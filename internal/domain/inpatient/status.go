package inpatient

// stayTransitions lists the statuses each status may move to.
var stayTransitions = map[string][]string{
	StatusAdmissionScheduled: {StatusAdmitted, StatusCancelled},
	StatusAdmitted:           {StatusDischargeScheduled},
	StatusDischargeScheduled: {StatusDischarged},
}

// ValidateTransition checks that a stay may move from one status to another.
func ValidateTransition(from, to string) error {
	for _, allowed := range stayTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return transitionError(from, to)
}

// canTransfer reports whether occupancy may change in the given status.
func canTransfer(status string) bool {
	return status == StatusAdmitted || status == StatusDischargeScheduled
}
