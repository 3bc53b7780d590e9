package summary

import "testing"

func TestSuggestStages(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		salesforce string
		hubspot    string
		creatio    string
	}{
		{
			name:       "closing keywords",
			text:       "The contract was signed during the call.",
			salesforce: "Closed Won",
			hubspot:    "closedwon",
			creatio:    "Won",
		},
		{
			name:       "proposal keywords",
			text:       "We agreed to send updated pricing next week.",
			salesforce: "Proposal/Price Quote",
			hubspot:    "presentationscheduled",
			creatio:    "Proposal",
		},
		{
			name:       "negotiation keywords",
			text:       "They asked for a volume discount.",
			salesforce: "Negotiation/Review",
			hubspot:    "decisionmakerboughtin",
			creatio:    "Negotiation",
		},
		{
			name:       "qualification keywords",
			text:       "Discussed budget and rollout timeline.",
			salesforce: "Needs Analysis",
			hubspot:    "qualifiedtobuy",
			creatio:    "Qualification",
		},
		{
			name:       "no keywords falls back to prospecting",
			text:       "Introductions and a product walkthrough.",
			salesforce: "Prospecting",
			hubspot:    "appointmentscheduled",
			creatio:    "Prospecting",
		},
		{
			name:       "matching is case-insensitive",
			text:       "PROPOSAL to follow by Friday.",
			salesforce: "Proposal/Price Quote",
			hubspot:    "presentationscheduled",
			creatio:    "Proposal",
		},
		{
			// "contract" (closing) and "budget" (qualification) both
			// appear; the earlier rule wins.
			name:       "first matching rule wins",
			text:       "Contract approved, budget confirmed.",
			salesforce: "Closed Won",
			hubspot:    "closedwon",
			creatio:    "Won",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suggestStages(tt.text)
			if got["salesforce"] != tt.salesforce {
				t.Errorf("salesforce stage = %q, want %q", got["salesforce"], tt.salesforce)
			}
			if got["hubspot"] != tt.hubspot {
				t.Errorf("hubspot stage = %q, want %q", got["hubspot"], tt.hubspot)
			}
			if got["creatio"] != tt.creatio {
				t.Errorf("creatio stage = %q, want %q", got["creatio"], tt.creatio)
			}
		})
	}
}
