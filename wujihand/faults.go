package wujihand

import "strings"

// FaultSeverity classifies a joint fault bit.
type FaultSeverity int

const (
	SeverityWarning FaultSeverity = iota
	SeverityError
	SeverityCritical
)

func (s FaultSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "critical"
	}
}

// Fault describes one bit of a joint error code.
type Fault struct {
	Bit         uint
	Description string
	Remedy      string
	Severity    FaultSeverity
}

const defaultRemedy = "Possible hardware damage, please contact customer service."

// faultTable maps joint error-code bits to their meaning. Bits absent
// from the table are reserved.
var faultTable = []Fault{
	{0, "ADC failure", defaultRemedy, SeverityCritical},
	{1, "Driver communication fault", defaultRemedy, SeverityError},
	{2, "Driver fault reported", defaultRemedy, SeverityError},
	{3, "Encoder1 communication fault", defaultRemedy, SeverityCritical},
	{4, "Encoder1 noise detected", defaultRemedy, SeverityError},
	{5, "Bus overvoltage", defaultRemedy, SeverityError},
	{6, "Bus undervoltage", defaultRemedy, SeverityError},
	{7, "Transmission slip detected", defaultRemedy, SeverityCritical},
	{8, "Phase overcurrent", defaultRemedy, SeverityError},
	{13, "Overtemperature", "Try improve cooling and reduce load.", SeverityError},
	{14, "Board info invalid", defaultRemedy, SeverityCritical},
	{16, "Encoder2 communication error", defaultRemedy, SeverityWarning},
	{17, "Encoder2 noise detected", defaultRemedy, SeverityWarning},
	{18, "Flash erase error", defaultRemedy, SeverityWarning},
	{19, "Flash verify error", defaultRemedy, SeverityWarning},
	{20, "Flash write error", defaultRemedy, SeverityWarning},
	{21, "User config verification failed", defaultRemedy, SeverityWarning},
	{22, "Flash write count limit reached", defaultRemedy, SeverityWarning},
}

// DecodeFaults expands a joint error code into the faults it carries.
func DecodeFaults(errorCode uint32) []Fault {
	var out []Fault
	for _, f := range faultTable {
		if errorCode&(1<<f.Bit) != 0 {
			out = append(out, f)
		}
	}
	return out
}

// FaultString renders an error code as a short human-readable summary.
func FaultString(errorCode uint32) string {
	if errorCode == 0 {
		return "ok"
	}
	faults := DecodeFaults(errorCode)
	if len(faults) == 0 {
		return "unknown fault"
	}
	parts := make([]string, len(faults))
	for i, f := range faults {
		parts[i] = f.Description
	}
	return strings.Join(parts, "; ")
}

// logFaultTransitions logs each fault bit that turned on since the
// previous upstream report. Cleared bits are not logged.
func (s *session) logFaultTransitions(prev, next *[NumFingers][NumJoints]uint32) {
	for f := 0; f < NumFingers; f++ {
		for j := 0; j < NumJoints; j++ {
			risen := next[f][j] &^ prev[f][j]
			if risen == 0 {
				continue
			}
			for _, fault := range DecodeFaults(risen) {
				switch fault.Severity {
				case SeverityWarning:
					s.logger.Warnw("joint fault raised",
						"finger", f, "joint", j,
						"fault", fault.Description, "remedy", fault.Remedy)
				default:
					s.logger.Errorw("joint fault raised",
						"finger", f, "joint", j,
						"fault", fault.Description, "remedy", fault.Remedy)
				}
			}
		}
	}
}
