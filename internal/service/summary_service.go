package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"kidvoice/internal/inference"
	"kidvoice/internal/logger"
	"kidvoice/internal/models"
	"kidvoice/internal/safety"
)

const (
	summaryMaxTopics     = 5
	summaryMaxHighlights = 8

	SummarySourceGenerated = "generated"
	SummarySourceTemplate  = "template"
)

const defaultThinkingQuestion = "What was your favourite idea you talked about today?"

const summarySystemPrompt = `You write a short, warm reflection for a parent about their child's conversation with a
learning voice. Reply with a JSON object only:
{"topics": ["..."], "vocabulary_highlights": ["..."], "thinking_question": "...", "parent_notes": "..."}
Topics are short noun phrases. The thinking question is one open-ended question the parent can ask the
child, at most 15 words. Parent notes are two sentences at most, encouraging and never diagnostic.
Never include names, addresses, phone numbers or other personal details.`

// Mailer delivers a finished summary to a parent
type Mailer interface {
	SendSessionSummary(ctx context.Context, toEmail, childName string, summary *models.SessionSummary) error
}

// SummaryService produces parent-facing session summaries
type SummaryService struct {
	stores    Stores
	completer inference.Completer
	timeout   time.Duration
	gate      *safety.Gate
	filter    *safety.ParentFilter
	mailer    Mailer
	logger    *zap.Logger
	now       func() time.Time
}

// NewSummaryService creates a new summary service. mailer may be nil.
func NewSummaryService(stores Stores, c inference.Completer, timeout time.Duration, gate *safety.Gate, mailer Mailer, l *zap.Logger) *SummaryService {
	if c == nil {
		c = inference.Disabled{}
	}
	return &SummaryService{
		stores:    stores,
		completer: c,
		timeout:   timeout,
		gate:      gate,
		filter:    safety.NewParentFilter(),
		mailer:    mailer,
		logger:    logger.OrNop(l).Named("summary"),
		now:       time.Now,
	}
}

type summaryPayload struct {
	Topics               []string `json:"topics"`
	VocabularyHighlights []string `json:"vocabulary_highlights"`
	ThinkingQuestion     string   `json:"thinking_question"`
	ParentNotes          string   `json:"parent_notes"`
}

// Summarize builds, filters, stores and emails the summary for a session
func (s *SummaryService) Summarize(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := s.stores.Sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	utterances, err := s.stores.Utterances.SessionUtterances(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session utterances: %w", err)
	}

	summary, err := s.generate(ctx, utterances)
	if err != nil {
		s.logger.Info("summary generation unavailable, using template", zap.String("session_id", sessionID), zap.Error(err))
		summary = fallbackSummary(utterances, session.State)
	}
	summary = s.filterSummary(summary)
	summary.GeneratedAt = s.now()

	if err := s.stores.Sessions.SaveSummary(ctx, sessionID, summary); err != nil {
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}

	child, err := s.stores.Children.GetChildByID(ctx, session.ChildID)
	if err != nil {
		s.logger.Warn("failed to load child for summary email", zap.String("session_id", sessionID), zap.Error(err))
		return summary, nil
	}
	if child != nil && child.ParentEmail != "" && s.mailer != nil {
		if err := s.mailer.SendSessionSummary(ctx, child.ParentEmail, child.Name, summary); err != nil {
			s.logger.Warn("failed to email summary", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	return summary, nil
}

// GetSummary returns the stored summary, or nil if none was generated
func (s *SummaryService) GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := s.stores.Sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session.Summary, nil
}

func (s *SummaryService) generate(ctx context.Context, utterances []models.Utterance) (*models.SessionSummary, error) {
	if len(utterances) == 0 {
		return nil, fmt.Errorf("no utterances to summarize")
	}

	var b strings.Builder
	for _, u := range utterances {
		who := "Child"
		if u.Speaker == models.SpeakerAIVoice {
			who = "Voice"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, u.Text)
	}

	raw, err := inference.CompleteWithTimeout(ctx, s.completer, s.timeout, inference.Prompt{
		Task:        inference.TaskSummarize,
		System:      summarySystemPrompt,
		User:        b.String(),
		JSON:        true,
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}

	var p summaryPayload
	if err := inference.DecodeJSON(raw, &p); err != nil {
		return nil, err
	}

	return &models.SessionSummary{
		Topics:               limit(p.Topics, summaryMaxTopics),
		VocabularyHighlights: limit(p.VocabularyHighlights, summaryMaxHighlights),
		ThinkingQuestion:     strings.TrimSpace(p.ThinkingQuestion),
		ParentNotes:          strings.TrimSpace(p.ParentNotes),
		Source:               SummarySourceGenerated,
	}, nil
}

// filterSummary passes every field through the parent-facing filter. The
// thinking question will be read to the child, so it also goes through the
// child-facing fast check.
func (s *SummaryService) filterSummary(in *models.SessionSummary) *models.SessionSummary {
	out := *in
	out.Topics = dropRedacted(s.filter.FilterAll(in.Topics))
	out.VocabularyHighlights = dropRedacted(s.filter.FilterAll(in.VocabularyHighlights))
	out.ParentNotes = s.filter.Filter(in.ParentNotes).Text

	question := in.ThinkingQuestion
	if question == "" {
		question = defaultThinkingQuestion
	}
	if r := s.filter.Filter(question); r.Redacted {
		question = defaultThinkingQuestion
	}
	if s.gate != nil {
		question = s.gate.CheckFast(question).Text
	}
	out.ThinkingQuestion = question
	return &out
}

// fallbackSummary derives a summary from the transcript alone
func fallbackSummary(utterances []models.Utterance, state *models.ChildState) *models.SessionSummary {
	counts := make(map[string]int)
	childTurns := 0
	for _, u := range utterances {
		if u.Speaker != models.SpeakerChild {
			continue
		}
		childTurns++
		for _, w := range strings.FieldsFunc(strings.ToLower(u.Text), func(r rune) bool {
			return !unicode.IsLetter(r) && r != '\''
		}) {
			if len(w) >= 4 && !stopWords[w] {
				counts[w]++
			}
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	var highlights []string
	if state != nil && len(state.Vocabulary) > 0 {
		v := state.Vocabulary
		for i := len(v) - 1; i >= 0 && len(highlights) < summaryMaxHighlights; i-- {
			highlights = append(highlights, v[i])
		}
	}

	notes := "Your child did not say much this time, and that is perfectly fine."
	if childTurns > 0 {
		notes = fmt.Sprintf("Your child shared %d thoughts during this session.", childTurns)
	}

	return &models.SessionSummary{
		Topics:               limit(words, summaryMaxTopics),
		VocabularyHighlights: highlights,
		ThinkingQuestion:     defaultThinkingQuestion,
		ParentNotes:          notes,
		Source:               SummarySourceTemplate,
	}
}

var stopWords = map[string]bool{
	"about": true, "because": true, "could": true, "don't": true, "from": true,
	"have": true, "just": true, "know": true, "like": true, "maybe": true,
	"that": true, "their": true, "them": true, "then": true, "there": true,
	"they": true, "think": true, "this": true, "what": true, "when": true,
	"with": true, "would": true, "your": true,
}

func limit(items []string, n int) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	return out
}

func dropRedacted(items []string) []string {
	var out []string
	for _, item := range items {
		if item != safety.RedactedText {
			out = append(out, item)
		}
	}
	return out
}
