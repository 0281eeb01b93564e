// Package features converts a conversation context into the fixed-dimension
// feature vector consumed by the scoring engine. Extraction is a pure,
// deterministic function of its input.
package features

import (
	"regexp"
	"strings"

	"chathub_backend/internal/leads/domain"
)

// Keyword groups behind the named dimension rules. Matching is
// case-insensitive substring matching on user turns.
var (
	pricingKeywords   = []string{"price", "pricing", "cost", "how much", "quote", "rate"}
	urgencyKeywords   = []string{"urgent", "asap", "immediately", "right away", "today", "deadline"}
	timeframeKeywords = []string{"this week", "this month", "this quarter", "next month", "soon", "timeline"}
	budgetKeywords    = []string{"budget", "$", "₹", "usd", "inr", "spend"}
	companyMarkers    = []string{"our company", "our team", "we are", "we're", "our business"}
	titleKeywords     = []string{"founder", "ceo", "cto", "coo", "director", "manager", "head of", "vp "}
	productKeywords   = []string{"demo", "trial", "feature", "integration", "product", "plan"}
	positiveKeywords  = []string{"great", "thanks", "thank you", "interested", "perfect", "love", "sounds good"}
	objectionKeywords = []string{"too expensive", "not sure", "competitor", "concern", "problem with", "cancel"}
)

// namePattern mirrors the self-introduction phrasing seen in chat transcripts.
// The phrase matches in any case ("My name is", "i'm"); the captured name must
// still be capitalized so ordinary prose is not mistaken for one.
var namePattern = regexp.MustCompile(`(?i:my name is|i am|i'm)\s+([A-Z][a-z]+) ([A-Z][a-z]+)`)

// Extractor computes the 16-dimension feature vector.
type Extractor struct{}

// NewExtractor creates a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract converts a conversation context into a normalized feature vector.
// Empty message history and missing scraped data yield zero-valued dimensions.
// Only structural invariant violations produce an error.
func (e *Extractor) Extract(ctx domain.ConversationContext) (domain.FeatureVector, error) {
	var v domain.FeatureVector

	if err := ctx.Validate(); err != nil {
		return v, err
	}

	userTurns := make([]string, 0, len(ctx.Messages))
	for _, msg := range ctx.Messages {
		if msg.Role == domain.RoleUser {
			userTurns = append(userTurns, strings.ToLower(msg.Text))
		}
	}

	total := len(ctx.Messages)
	users := len(userTurns)

	v[domain.DimPricingIntent] = clamp01(float64(countTurnsWithAny(userTurns, pricingKeywords)) / 2)
	v[domain.DimUrgency] = clamp01(float64(countTurnsWithAny(userTurns, urgencyKeywords)) / 2)
	v[domain.DimQuestionDensity] = questionDensity(userTurns)
	v[domain.DimEngagementDepth] = clamp01(float64(users) / 10)
	v[domain.DimMessageLength] = averageLength(userTurns)
	v[domain.DimRecency] = recencyWeightedTurns(ctx.Messages)
	v[domain.DimBuyingTimeframe] = clamp01(float64(countTurnsWithAny(userTurns, timeframeKeywords)) / 2)
	v[domain.DimBudgetMention] = clamp01(float64(countTurnsWithAny(userTurns, budgetKeywords)) / 2)
	v[domain.DimContactIdentity] = contactIdentity(ctx)
	v[domain.DimCompanySignal] = companySignal(ctx, userTurns)
	v[domain.DimDecisionMaker] = clamp01(float64(countTurnsWithAny(userTurns, titleKeywords)))
	v[domain.DimScrapedRichness] = clamp01(float64(len(ctx.ScrapedData)) / 8)
	v[domain.DimProductInterest] = clamp01(float64(countTurnsWithAny(userTurns, productKeywords)) / 2)
	v[domain.DimPositiveSentiment] = clamp01(float64(countTurnsWithAny(userTurns, positiveKeywords)) / 3)
	v[domain.DimObjection] = clamp01(float64(countTurnsWithAny(userTurns, objectionKeywords)) / 2)
	v[domain.DimRepeatVisitor] = clamp01(float64(total) / 20)

	return v, nil
}

// ExtractName pulls a self-introduced first/last name from the transcript,
// the same signal the CRM contact creation uses.
func ExtractName(ctx domain.ConversationContext) (first, last string) {
	for i := len(ctx.Messages) - 1; i >= 0; i-- {
		if ctx.Messages[i].Role != domain.RoleUser {
			continue
		}
		if match := namePattern.FindStringSubmatch(ctx.Messages[i].Text); match != nil {
			return match[1], match[2]
		}
	}
	return "", ""
}

func countTurnsWithAny(turns []string, keywords []string) int {
	count := 0
	for _, turn := range turns {
		for _, kw := range keywords {
			if strings.Contains(turn, kw) {
				count++
				break
			}
		}
	}
	return count
}

// questionDensity normalizes question marks per user turn; two questions per
// turn saturates the signal.
func questionDensity(turns []string) float64 {
	if len(turns) == 0 {
		return 0
	}
	questions := 0
	for _, turn := range turns {
		questions += strings.Count(turn, "?")
	}
	return clamp01(float64(questions) / float64(len(turns)) / 2)
}

// averageLength saturates at 50 words per user turn.
func averageLength(turns []string) float64 {
	if len(turns) == 0 {
		return 0
	}
	words := 0
	for _, turn := range turns {
		words += len(strings.Fields(turn))
	}
	return clamp01(float64(words) / float64(len(turns)) / 50)
}

// recencyWeightedTurns weights user turns by their position in the transcript
// so late-conversation activity counts more than an early burst.
func recencyWeightedTurns(messages []domain.Message) float64 {
	if len(messages) == 0 {
		return 0
	}
	var weighted float64
	var users int
	for i, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		users++
		weighted += float64(i+1) / float64(len(messages))
	}
	if users == 0 {
		return 0
	}
	return clamp01(weighted / float64(users))
}

func contactIdentity(ctx domain.ConversationContext) float64 {
	score := 0.0
	if ctx.Email != "" {
		score += 0.6
	}
	if first, _ := ExtractName(ctx); first != "" {
		score += 0.4
	}
	return clamp01(score)
}

func companySignal(ctx domain.ConversationContext, userTurns []string) float64 {
	score := 0.0
	if countTurnsWithAny(userTurns, companyMarkers) > 0 {
		score += 0.5
	}
	if _, ok := ctx.ScrapedData["company"]; ok {
		score += 0.5
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
