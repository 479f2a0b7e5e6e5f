package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spec-kit/support-orchestrator/internal/domain"
)

// The rule-based collaborators below make the daemon runnable end to end
// without an ML backend. Production deployments inject real classifier,
// retriever, generator and validator implementations through the same
// interfaces.

var categoryKeywords = map[domain.TicketCategory][]string{
	domain.TicketCategoryBilling:   {"payment", "invoice", "refund", "charge", "billing", "subscription", "card"},
	domain.TicketCategoryTechnical: {"error", "bug", "crash", "broken", "fail", "timeout", "login", "install"},
	domain.TicketCategoryComplaint: {"disappointed", "unacceptable", "terrible", "complaint", "frustrated", "awful"},
	domain.TicketCategoryGeneral:   {"how", "question", "information", "help", "where", "when"},
}

var urgentKeywords = []string{"down", "outage", "security", "breach", "urgent", "immediately"}

var negativeKeywords = []string{"angry", "disappointed", "frustrated", "terrible", "unacceptable", "awful", "worst"}

var positiveKeywords = []string{"thanks", "thank you", "great", "love", "appreciate"}

// RuleClassifier classifies by keyword matching.
type RuleClassifier struct{}

// NewRuleClassifier constructs the classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify implements TicketClassifier.
func (c *RuleClassifier) Classify(_ context.Context, content string, _ map[string]string) (Classification, error) {
	lower := strings.ToLower(content)

	category := domain.TicketCategoryOther
	var tags []string
	best := 0
	for cat, words := range categoryKeywords {
		hits := 0
		for _, word := range words {
			if strings.Contains(lower, word) {
				hits++
				tags = append(tags, word)
			}
		}
		if hits > best {
			best = hits
			category = cat
		}
	}
	sort.Strings(tags)

	priority := domain.TicketPriorityMedium
	for _, word := range urgentKeywords {
		if strings.Contains(lower, word) {
			priority = domain.TicketPriorityUrgent
			break
		}
	}
	if priority != domain.TicketPriorityUrgent {
		switch category {
		case domain.TicketCategoryComplaint:
			priority = domain.TicketPriorityHigh
		case domain.TicketCategoryGeneral, domain.TicketCategoryOther:
			priority = domain.TicketPriorityLow
		}
	}

	sentiment := domain.SentimentNeutral
	for _, word := range negativeKeywords {
		if strings.Contains(lower, word) {
			sentiment = domain.SentimentNegative
			break
		}
	}
	if sentiment == domain.SentimentNeutral {
		for _, word := range positiveKeywords {
			if strings.Contains(lower, word) {
				sentiment = domain.SentimentPositive
				break
			}
		}
	}

	return Classification{
		Category:  category,
		Priority:  priority,
		Tags:      tags,
		Sentiment: sentiment,
	}, nil
}

// MemoryRetriever ranks an in-memory document set by keyword overlap
// with the query. It stands in for the vector search backend.
type MemoryRetriever struct {
	docs  []Document
	limit int
}

// NewMemoryRetriever constructs a retriever over the given documents.
func NewMemoryRetriever(docs []Document, limit int) *MemoryRetriever {
	if limit <= 0 {
		limit = 3
	}
	return &MemoryRetriever{docs: docs, limit: limit}
}

// Search implements DocumentRetriever.
func (r *MemoryRetriever) Search(_ context.Context, query string) ([]Document, error) {
	words := strings.Fields(strings.ToLower(query))
	ranked := make([]Document, 0, len(r.docs))
	for _, doc := range r.docs {
		text := strings.ToLower(doc.Text)
		hits := 0
		for _, word := range words {
			if len(word) > 3 && strings.Contains(text, word) {
				hits++
			}
		}
		if hits > 0 {
			doc.Relevance = float64(hits) / float64(len(words))
			ranked = append(ranked, doc)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Relevance > ranked[j].Relevance })
	if len(ranked) > r.limit {
		ranked = ranked[:r.limit]
	}
	return ranked, nil
}

// TemplateResponder composes a plain support response from the prompt
// and retrieved documents. It stands in for the generation backend.
type TemplateResponder struct{}

// NewTemplateResponder constructs the responder.
func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{}
}

// Generate implements ResponseGenerator.
func (t *TemplateResponder) Generate(_ context.Context, prompt string, contextDocs []string) (string, error) {
	var b strings.Builder
	b.WriteString("Hello, thank you for contacting support.\n\n")
	if len(contextDocs) > 0 {
		b.WriteString("Based on our documentation, the following may help:\n")
		for _, doc := range contextDocs {
			fmt.Fprintf(&b, "- %s\n", doc)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("We have reviewed your inquiry and will make sure it is handled.\n\n")
	}
	if strings.Contains(prompt, "Sentiment: negative") {
		b.WriteString("We sincerely apologize for the inconvenience this has caused.\n\n")
	}
	b.WriteString("If this does not resolve your issue, please reply and we will follow up.\n\nBest regards,\nSupport Team")
	return b.String(), nil
}

// HeuristicValidator scores drafts on structural quality: length,
// greeting and closing, context usage and apology on negative sentiment.
// It stands in for the validation backend.
type HeuristicValidator struct{}

// NewHeuristicValidator constructs the validator.
func NewHeuristicValidator() *HeuristicValidator {
	return &HeuristicValidator{}
}

// Validate implements ResponseValidator.
func (v *HeuristicValidator) Validate(_ context.Context, content, draft string) (Validation, error) {
	score := 0.0
	var issues []string

	if len(draft) >= 80 {
		score += 0.3
	} else {
		issues = append(issues, "response too short")
	}
	lower := strings.ToLower(draft)
	if strings.Contains(lower, "hello") || strings.Contains(lower, "dear") {
		score += 0.2
	} else {
		issues = append(issues, "missing greeting")
	}
	if strings.Contains(lower, "regards") || strings.Contains(lower, "sincerely") {
		score += 0.2
	} else {
		issues = append(issues, "missing closing")
	}
	if mentionsInquiry(content, lower) {
		score += 0.3
	} else {
		issues = append(issues, "does not address the inquiry")
	}

	feedback := "looks good"
	if len(issues) > 0 {
		feedback = strings.Join(issues, "; ")
	}
	return Validation{
		Score:           score,
		Feedback:        feedback,
		PolicyCompliant: !strings.Contains(lower, "guarantee"),
		ToneAppropriate: !strings.Contains(lower, "obviously"),
	}, nil
}

func mentionsInquiry(content, draft string) bool {
	for _, word := range strings.Fields(strings.ToLower(content)) {
		if len(word) > 4 && strings.Contains(draft, word) {
			return true
		}
	}
	return false
}
