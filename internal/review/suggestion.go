package review

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type SuggestionType string

const (
	TypeFormatError        SuggestionType = "FORMAT_ERROR"
	TypePunctuation        SuggestionType = "PUNCTUATION"
	TypeReferenceOutdated  SuggestionType = "REFERENCE_OUTDATED"
	TypeReferenceMissing   SuggestionType = "REFERENCE_MISSING"
	TypeContentEnhancement SuggestionType = "CONTENT_ENHANCEMENT"
	TypeNumberingError     SuggestionType = "NUMBERING_ERROR"
	TypeDateFormat         SuggestionType = "DATE_FORMAT"

	// TypeDocumentContent marks a frame carrying the converted document text.
	// It is never a suggestion.
	TypeDocumentContent SuggestionType = "DOCUMENT_CONTENT"
)

// Suggestion is one review finding as sent by the server.
type Suggestion struct {
	ID                  string         `json:"id,omitempty"`
	Type                SuggestionType `json:"type"`
	Severity            Severity       `json:"severity"`
	Position            int            `json:"position"`
	OriginalText        string         `json:"original_text"`
	SuggestedText       *string        `json:"suggested_text"`
	Reason              string         `json:"reason"`
	KnowledgeSource     *string        `json:"knowledge_source,omitempty"`
	KnowledgeDocumentID *int64         `json:"knowledge_document_id,omitempty"`

	// Only set on DOCUMENT_CONTENT frames.
	DocumentContent string `json:"document_content,omitempty"`
}

const maxTextLen = 4000

var errNilSuggestion = errors.New("nil suggestion")

// ValidateSuggestion normalizes a decoded suggestion in place: type and
// severity are upper-cased with unknown severities treated as INFO, negative
// positions clamp to 0, overlong text is cut, and a missing id is generated.
// Records without a type or text are kept as they are.
func ValidateSuggestion(s *Suggestion) error {
	if s == nil {
		return errNilSuggestion
	}
	s.Type = SuggestionType(strings.ToUpper(strings.TrimSpace(string(s.Type))))
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(string(s.Severity)))); sev {
	case SeverityError, SeverityWarning, SeverityInfo:
		s.Severity = sev
	default:
		s.Severity = SeverityInfo
	}
	if s.Position < 0 {
		s.Position = 0
	}
	s.OriginalText = truncate(s.OriginalText, maxTextLen)
	s.Reason = truncate(s.Reason, maxTextLen)
	if s.SuggestedText != nil {
		t := truncate(*s.SuggestedText, maxTextLen)
		s.SuggestedText = &t
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s
}

// Counts tallies suggestions by severity.
type Counts struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

func CountBySeverity(list []Suggestion) Counts {
	c := Counts{Total: len(list)}
	for _, s := range list {
		switch s.Severity {
		case SeverityError:
			c.Errors++
		case SeverityWarning:
			c.Warnings++
		default:
			c.Infos++
		}
	}
	return c
}

// FilterBySeverity returns the suggestions with the given severity; an empty
// severity returns all of them.
func FilterBySeverity(list []Suggestion, sev Severity) []Suggestion {
	if sev == "" {
		return list
	}
	var out []Suggestion
	for _, s := range list {
		if s.Severity == sev {
			out = append(out, s)
		}
	}
	return out
}
