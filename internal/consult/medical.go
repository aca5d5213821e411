package consult

import "strings"

// symptomKeywords is a coarse lexicon for flagging symptoms in base-language
// text. Full clinical NER lives in the analysis service; this keeps enough
// signal in the consultation document for triage and the final report.
var symptomKeywords = []string{
	"fever", "cough", "headache", "pain", "nausea", "vomiting",
	"dizziness", "fatigue", "rash", "swelling", "diarrhea", "cold",
	"sore throat", "shortness of breath",
}

// emergencyKeywords escalate the risk level when present.
var emergencyKeywords = []string{
	"chest pain", "can't breathe", "cannot breathe", "unconscious",
	"severe bleeding", "suicidal",
}

// updateMedical folds one user message into the session's derived medical
// context.
func (m *Manager) updateMedical(s *Session, baseText string) {
	lower := strings.ToLower(baseText)
	s.Medical.QuestionCount++

	for _, kw := range symptomKeywords {
		if strings.Contains(lower, kw) && !containsString(s.Medical.Symptoms, kw) {
			s.Medical.Symptoms = append(s.Medical.Symptoms, kw)
		}
	}

	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			s.Medical.RiskLevel = "high"
			return
		}
	}
	if s.Medical.RiskLevel == "" {
		if len(s.Medical.Symptoms) > 0 {
			s.Medical.RiskLevel = "moderate"
		} else {
			s.Medical.RiskLevel = "low"
		}
	} else if s.Medical.RiskLevel == "low" && len(s.Medical.Symptoms) > 0 {
		s.Medical.RiskLevel = "moderate"
	}
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
