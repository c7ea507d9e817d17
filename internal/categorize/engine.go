package categorize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"inbox-triage-go/internal/model"
)

// Message is the metadata the engine classifies on. It carries everything the
// decision needs; the engine holds no state and performs no I/O, so it is
// safe to call concurrently across mailboxes.
type Message struct {
	Subject    string
	Sender     string
	Snippet    string
	ReceivedAt time.Time
}

// Result is a category label with a normalized confidence in [0,1].
type Result struct {
	Category   model.Category
	Confidence float64
}

// Engine assigns a category to a message. The rule engine below is the
// default implementation; a learned model can replace it behind this
// interface without touching the orchestrator.
type Engine interface {
	Categorize(msg Message) (Result, error)
}

// RuleGroup is one category's signal set. Urgency orders tie-breaking: when
// two categories score equally, the one with lower Urgency wins, so an
// ambiguous message never produces a false urgent alert.
type RuleGroup struct {
	Category        model.Category
	Urgency         int
	Keywords        []string
	SenderPatterns  []string
	SubjectPatterns []*regexp.Regexp
}

// Weights of the individual signals in a group's aggregate score.
const (
	keywordWeight = 0.4
	senderWeight  = 0.3
	patternWeight = 0.2
	timeWeight    = 0.1

	// minConfidence is the score floor below which the engine falls back to
	// routine rather than trusting a near-zero signal.
	minConfidence = 0.05

	fallbackConfidence = 0.3
)

// RuleEngine is the weighted-rule classifier. The rule table is data, passed
// in at construction; the scoring and tie-break policy live here.
type RuleEngine struct {
	groups []RuleGroup
}

// NewRuleEngine creates a rule engine over the given rule table. A nil table
// selects the built-in default rules.
func NewRuleEngine(groups []RuleGroup) *RuleEngine {
	if groups == nil {
		groups = DefaultRules()
	}
	return &RuleEngine{groups: groups}
}

// Categorize scores every rule group against the message and returns the
// winner. Ties break toward the less urgent category.
func (e *RuleEngine) Categorize(msg Message) (Result, error) {
	if msg.Subject == "" && msg.Sender == "" && msg.Snippet == "" {
		return Result{}, fmt.Errorf("message carries no classifiable metadata")
	}

	subject := strings.ToLower(msg.Subject)
	sender := strings.ToLower(msg.Sender)
	text := subject + " " + strings.ToLower(msg.Snippet)

	var best *RuleGroup
	var bestScore float64

	for i := range e.groups {
		group := &e.groups[i]
		score := e.score(group, subject, sender, text, msg.ReceivedAt)

		if best == nil || score > bestScore ||
			(score == bestScore && group.Urgency < best.Urgency) {
			best = group
			bestScore = score
		}
	}

	if best == nil || bestScore < minConfidence {
		return Result{Category: model.CategoryRoutine, Confidence: fallbackConfidence}, nil
	}

	if bestScore > 1.0 {
		bestScore = 1.0
	}
	return Result{Category: best.Category, Confidence: bestScore}, nil
}

func (e *RuleEngine) score(group *RuleGroup, subject, sender, text string, receivedAt time.Time) float64 {
	score := keywordScore(group.Keywords, text) * keywordWeight
	score += senderScore(group.SenderPatterns, sender) * senderWeight
	score += patternScore(group.SubjectPatterns, subject) * patternWeight
	score += timeScore(group.Category, receivedAt) * timeWeight

	if score > 1.0 {
		return 1.0
	}
	return score
}

func keywordScore(keywords []string, text string) float64 {
	if text == "" || len(keywords) == 0 {
		return 0
	}

	matches := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			matches++
		}
	}

	denom := float64(len(keywords)) * 0.3
	if denom < 1 {
		denom = 1
	}
	return clamp(float64(matches) / denom)
}

func senderScore(patterns []string, sender string) float64 {
	if sender == "" || len(patterns) == 0 {
		return 0
	}

	matches := 0
	for _, pattern := range patterns {
		if strings.Contains(sender, pattern) {
			matches++
		}
	}

	denom := float64(len(patterns)) * 0.5
	if denom < 1 {
		denom = 1
	}
	return clamp(float64(matches) / denom)
}

func patternScore(patterns []*regexp.Regexp, subject string) float64 {
	if subject == "" || len(patterns) == 0 {
		return 0
	}

	matches := 0
	for _, pattern := range patterns {
		if pattern.MatchString(subject) {
			matches++
		}
	}

	return clamp(float64(matches) / float64(len(patterns)))
}

// timeScore adds a small deterministic signal from the message's own receive
// time: business-hours mail leans urgent/important, late-night mail leans
// spam.
func timeScore(category model.Category, receivedAt time.Time) float64 {
	if receivedAt.IsZero() {
		return 0
	}

	hour := receivedAt.Hour()
	switch category {
	case model.CategoryUrgent, model.CategoryImportant:
		if hour >= 9 && hour <= 17 {
			return 0.2
		}
	case model.CategorySpam:
		if hour < 8 || hour > 20 {
			return 0.1
		}
	}
	return 0
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
