package summary

import "strings"

// stageRule maps trigger keywords to the pipeline stage names used by each
// supported CRM. Rules are evaluated in order; the first rule with a keyword
// present in the text wins.
type stageRule struct {
	keywords   []string
	salesforce string
	hubspot    string
	creatio    string
}

var stageRules = []stageRule{
	{
		keywords:   []string{"signed", "approved", "contract", "deal closed", "purchase order"},
		salesforce: "Closed Won",
		hubspot:    "closedwon",
		creatio:    "Won",
	},
	{
		keywords:   []string{"proposal", "quote", "pricing", "contract review"},
		salesforce: "Proposal/Price Quote",
		hubspot:    "presentationscheduled",
		creatio:    "Proposal",
	},
	{
		keywords:   []string{"negotiate", "terms", "conditions", "discount"},
		salesforce: "Negotiation/Review",
		hubspot:    "decisionmakerboughtin",
		creatio:    "Negotiation",
	},
	{
		keywords:   []string{"requirements", "needs", "budget", "timeline"},
		salesforce: "Needs Analysis",
		hubspot:    "qualifiedtobuy",
		creatio:    "Qualification",
	},
}

// defaultStages applies when no keyword rule matches.
var defaultStages = stageRule{
	salesforce: "Prospecting",
	hubspot:    "appointmentscheduled",
	creatio:    "Prospecting",
}

// suggestStages picks the CRM stage per system from the summary text.
// Matching is case-insensitive on whole substrings.
func suggestStages(text string) map[string]string {
	lower := strings.ToLower(text)

	rule := defaultStages
	for _, r := range stageRules {
		if containsAny(lower, r.keywords) {
			rule = r
			break
		}
	}

	return map[string]string{
		"salesforce": rule.salesforce,
		"hubspot":    rule.hubspot,
		"creatio":    rule.creatio,
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
