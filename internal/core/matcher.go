package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hadlow/llm-mail-labeler/internal/utils"
	"go.uber.org/zap"
)

// selfTaxonomyTag is the signature stand-in for rule text when classifying
// owner-authored messages against the fixed binary taxonomy.
const selfTaxonomyTag = "__self_taxonomy__"

// Matcher decides whether a message matches a rule, or which of the two
// fixed categories an owner-authored message falls into. Results are cached
// by a message/rule signature.
type Matcher struct {
	classifier   Classifier
	cache        EvalCache
	logger       *zap.Logger
	text         *utils.TextProcessor
	shortCircuit float64
	maxBodySize  int
	ruleFormat   string
	selfFormat   string
}

// NewMatcher creates a new matcher. maxBodySize bounds the message body sent
// to the classifier; zero means unbounded.
func NewMatcher(
	classifier Classifier,
	cache EvalCache,
	logger *zap.Logger,
	text *utils.TextProcessor,
	shortCircuit float64,
	maxBodySize int,
) *Matcher {
	return &Matcher{
		classifier:   classifier,
		cache:        cache,
		logger:       logger,
		text:         text,
		shortCircuit: shortCircuit,
		maxBodySize:  maxBodySize,
		ruleFormat: `You are an email triage assistant. Decide whether the email below matches the user's rule.
Respond with a JSON object containing:
- matches: boolean (true if the email satisfies the rule)
- confidence: number between 0 and 1 (how confident you are)
- reasoning: string (brief justification)

Rule: %s

%s
Respond only with the JSON object and nothing else.`,
		selfFormat: `You are an email triage assistant. The email below was written by the mailbox owner.
Decide whether the owner is still awaiting a reply or has already actioned the thread.
Respond with a JSON object containing:
- category: string, exactly "awaiting-reply" or "actioned"
- confidence: number between 0 and 1 (how confident you are)
- reasoning: string (brief justification)

%s
Respond only with the JSON object and nothing else.`,
	}
}

// ruleResponse is the fixed-shape classifier answer for rule evaluation.
// Pointer fields distinguish a missing key from a zero value.
type ruleResponse struct {
	Matches    *bool    `json:"matches"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// selfResponse is the fixed-shape classifier answer for the binary taxonomy
type selfResponse struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// EvaluateAgainstRule evaluates one message against one rule's predicate text.
// A malformed classifier answer degrades to a no-match with zero confidence;
// it is never an error. Classifier transport failures propagate typed.
func (m *Matcher) EvaluateAgainstRule(ctx context.Context, msg *Message, conversation []*Message, ruleText, ownerEmail string) (*MatchResult, error) {
	key := signature(msg, ruleText)
	if entry, ok := m.cache.Get(key); ok {
		m.logger.Debug("Evaluation cache hit",
			zap.String("message_id", msg.ID),
			zap.String("rule", ruleText))
		return &MatchResult{
			Matches:    entry.Matches,
			Confidence: entry.Confidence,
			Reasoning:  entry.Reasoning,
		}, nil
	}

	prompt := fmt.Sprintf(m.ruleFormat, ruleText, m.describeMessage(msg, conversation, ownerEmail))

	raw, err := m.classifier.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := m.parseRuleResponse(raw)
	m.cache.Put(key, &EvalResult{
		Matches:     result.Matches,
		Confidence:  result.Confidence,
		Reasoning:   result.Reasoning,
		EvaluatedAt: time.Now(),
	})

	return result, nil
}

// EvaluateSelfAuthored classifies an owner-authored message into one of the
// two fixed categories. A category outside the set is a parse failure.
func (m *Matcher) EvaluateSelfAuthored(ctx context.Context, msg *Message, conversation []*Message, ownerEmail string) (*SelfResult, error) {
	key := signature(msg, selfTaxonomyTag)
	if entry, ok := m.cache.Get(key); ok {
		m.logger.Debug("Evaluation cache hit",
			zap.String("message_id", msg.ID),
			zap.String("taxonomy", "self"))
		return &SelfResult{
			Category:   entry.Category,
			Confidence: entry.Confidence,
			Reasoning:  entry.Reasoning,
		}, nil
	}

	prompt := fmt.Sprintf(m.selfFormat, m.describeMessage(msg, conversation, ownerEmail))

	raw, err := m.classifier.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := m.parseSelfResponse(raw)
	m.cache.Put(key, &EvalResult{
		Category:    result.Category,
		Confidence:  result.Confidence,
		Reasoning:   result.Reasoning,
		EvaluatedAt: time.Now(),
	})

	return result, nil
}

// FindBestMatch evaluates candidate rules most-important-first. A match with
// confidence at or above the short-circuit threshold wins immediately;
// otherwise every rule is evaluated and the winner is the highest-priority
// match, confidence breaking priority ties. Returns nil when nothing matches.
func (m *Matcher) FindBestMatch(ctx context.Context, msg *Message, conversation []*Message, rules []*Rule, ownerEmail string) (*RuleMatch, error) {
	ordered := make([]*Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var best *RuleMatch
	for _, rule := range ordered {
		result, err := m.EvaluateAgainstRule(ctx, msg, conversation, rule.Predicate, ownerEmail)
		if err != nil {
			return nil, err
		}
		if !result.Matches {
			continue
		}

		if best == nil ||
			rule.Priority > best.Rule.Priority ||
			(rule.Priority == best.Rule.Priority && result.Confidence > best.Confidence) {
			best = &RuleMatch{Rule: rule, Confidence: result.Confidence, Reasoning: result.Reasoning}
		}

		// A confident match stops further evaluation; any rule already
		// matched at higher priority still takes precedence.
		if result.Confidence >= m.shortCircuit {
			m.logger.Debug("High-confidence match, stopping evaluation",
				zap.String("message_id", msg.ID),
				zap.String("rule_id", rule.ID),
				zap.Float64("confidence", result.Confidence))
			break
		}
	}

	return best, nil
}

// describeMessage renders the message block shared by both prompt shapes:
// headers, normalized addresses, the self-sent flag, and the conversation
// history with the last sender marked.
func (m *Matcher) describeMessage(msg *Message, conversation []*Message, ownerEmail string) string {
	sender := utils.NormalizeAddress(msg.From)
	recipients := utils.NormalizeAddresses(msg.To)

	selfSent := false
	for _, r := range recipients {
		if r == sender {
			selfSent = true
			break
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Email:\nFrom: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "Sender address: %s\n", sender)
	fmt.Fprintf(&b, "Recipient addresses: %s\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Mailbox owner: %s\n", strings.ToLower(ownerEmail))
	fmt.Fprintf(&b, "Self-sent: %t\n", selfSent)

	body := msg.Body
	if body == "" {
		body = msg.Snippet
	}
	fmt.Fprintf(&b, "Body:\n%s\n", m.text.ProcessText(body, m.maxBodySize))

	if len(conversation) > 1 {
		latest := LatestMessage(conversation)
		fmt.Fprintf(&b, "\nConversation history (%d messages, last sent by %s):\n",
			len(conversation), utils.NormalizeAddress(latest.From))
		for _, prior := range conversation {
			marker := ""
			if prior.ID == latest.ID {
				marker = " [latest]"
			}
			fmt.Fprintf(&b, "- %s%s: %s\n", utils.NormalizeAddress(prior.From), marker, prior.Snippet)
		}
	}

	return b.String()
}

func (m *Matcher) parseRuleResponse(raw string) *MatchResult {
	var resp ruleResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return &MatchResult{Reasoning: fmt.Sprintf("parse failure: %v", err)}
	}
	if resp.Matches == nil || resp.Confidence == nil {
		return &MatchResult{Reasoning: "parse failure: missing matches or confidence field"}
	}
	if *resp.Confidence < 0 || *resp.Confidence > 1 {
		return &MatchResult{Reasoning: fmt.Sprintf("parse failure: confidence %v out of range", *resp.Confidence)}
	}
	return &MatchResult{
		Matches:    *resp.Matches,
		Confidence: *resp.Confidence,
		Reasoning:  resp.Reasoning,
	}
}

func (m *Matcher) parseSelfResponse(raw string) *SelfResult {
	var resp selfResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return &SelfResult{Reasoning: fmt.Sprintf("parse failure: %v", err)}
	}
	if resp.Confidence == nil || *resp.Confidence < 0 || *resp.Confidence > 1 {
		return &SelfResult{Reasoning: "parse failure: missing or out-of-range confidence"}
	}
	category := SelfCategory(resp.Category)
	if category != CategoryAwaitingReply && category != CategoryActioned {
		return &SelfResult{Reasoning: fmt.Sprintf("parse failure: unknown category %q", resp.Category)}
	}
	return &SelfResult{
		Category:   category,
		Confidence: *resp.Confidence,
		Reasoning:  resp.Reasoning,
	}
}

// extractJSON salvages the outermost JSON object from model output that
// wraps it in prose or code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// signature derives the cache key from the parts of a message that influence
// classification plus the rule text (or taxonomy tag).
func signature(msg *Message, ruleText string) string {
	h := sha256.New()
	h.Write([]byte(utils.NormalizeAddress(msg.From)))
	h.Write([]byte{0})
	h.Write([]byte(msg.Subject))
	h.Write([]byte{0})
	h.Write([]byte(msg.Snippet))
	h.Write([]byte{0})
	h.Write([]byte(ruleText))
	return hex.EncodeToString(h.Sum(nil))
}
