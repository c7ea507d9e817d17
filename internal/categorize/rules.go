package categorize

import (
	"regexp"

	"inbox-triage-go/internal/model"
)

// Default rule table. Higher urgency means the label escalates harder;
// tie-breaks resolve toward lower urgency.
var (
	urgentSubjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(urgent|emergency|critical|asap)\b`),
		regexp.MustCompile(`\b(deadline|due)\s+(today|now|immediately)\b`),
		regexp.MustCompile(`\b(action required|immediate attention)\b`),
	}
	importantSubjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(meeting|conference|call)\b`),
		regexp.MustCompile(`\b(project|proposal|contract)\b`),
		regexp.MustCompile(`\b(review|approval|decision)\b`),
		regexp.MustCompile(`\b(report|update|status)\b`),
	}
	routineSubjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(update|information|notification)\b`),
		regexp.MustCompile(`\b(reminder|follow.?up|confirmation)\b`),
		regexp.MustCompile(`\b(newsletter|digest|summary)\b`),
	}
	promotionalSubjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(sale|discount|offer|deal)\b`),
		regexp.MustCompile(`\b(special|exclusive|limited)\b`),
		regexp.MustCompile(`\b(save|free|coupon)\b`),
		regexp.MustCompile(`%\s*off\b`),
	}
	spamSubjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(winner|lottery|prize|congratulations)\b`),
		regexp.MustCompile(`\b(claim|inheritance|millions)\b`),
		regexp.MustCompile(`\$\d+[,.]?\d*\s*(million|thousand)`),
	}
)

// DefaultRules returns the built-in rule table.
func DefaultRules() []RuleGroup {
	return []RuleGroup{
		{
			Category: model.CategoryUrgent,
			Urgency:  5,
			Keywords: []string{
				"urgent", "asap", "emergency", "critical", "deadline today",
				"immediate", "server down", "outage", "crisis", "breaking",
			},
			SenderPatterns: []string{
				"ceo", "president", "director", "manager", "alerts",
				"legal", "compliance", "security", "incident",
			},
			SubjectPatterns: urgentSubjectPatterns,
		},
		{
			Category: model.CategoryImportant,
			Urgency:  4,
			Keywords: []string{
				"meeting", "project", "report", "review", "approval", "decision",
				"conference", "presentation", "proposal", "contract", "budget",
			},
			SenderPatterns: []string{
				"client", "customer", "partner", "vendor",
				"project manager", "account manager", "stakeholder",
			},
			SubjectPatterns: importantSubjectPatterns,
		},
		{
			Category: model.CategoryRoutine,
			Urgency:  3,
			Keywords: []string{
				"update", "information", "notification", "reminder", "follow-up",
				"schedule", "confirmation", "receipt", "invoice", "newsletter",
				"digest",
			},
			SenderPatterns: []string{
				"team", "colleague", "department", "hr", "admin",
				"support", "service", "billing",
			},
			SubjectPatterns: routineSubjectPatterns,
		},
		{
			Category: model.CategoryPromotional,
			Urgency:  2,
			Keywords: []string{
				"sale", "discount", "offer", "deal", "promotion", "special",
				"limited time", "exclusive", "save", "free", "coupon",
			},
			SenderPatterns: []string{
				"marketing", "sales", "promo", "deals", "offers",
				"newsletter", "no-reply", "noreply",
			},
			SubjectPatterns: promotionalSubjectPatterns,
		},
		{
			Category: model.CategorySpam,
			Urgency:  1,
			Keywords: []string{
				"winner", "lottery", "prize", "congratulations", "claim now",
				"inheritance", "millions", "prince", "deceased", "beneficiary",
			},
			SenderPatterns: []string{
				"lottery", "winner", "claim", "inheritance", "beneficiary",
				"investment", "trading", "forex",
			},
			SubjectPatterns: spamSubjectPatterns,
		},
	}
}
