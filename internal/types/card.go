package types

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MemoryCard is the validated write shape for creating a memory.
// Unknown JSON fields are rejected at the HTTP layer before this is built.
type MemoryCard struct {
	Type     MemoryType        `json:"type"`
	Source   MemorySource      `json:"source"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ValidationError reports a card or request field that failed a constraint.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Msg)
}

// Invalidf builds a ValidationError for a field.
func Invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Canonicalize validates the card and rewrites it into canonical form:
// trimmed NFKC content and title, lowercased tags, empty metadata values
// dropped. It returns the first constraint violation found.
func (c *MemoryCard) Canonicalize() error {
	if c.Source == "" {
		c.Source = SourceManual
	}
	if !c.Type.IsValid() {
		return Invalidf("type", "unknown memory type %q", c.Type)
	}
	if !c.Source.IsValid() {
		return Invalidf("source", "unknown source %q", c.Source)
	}

	// Length limits count characters, not bytes: multibyte input up to the
	// limit is valid.
	c.Title = norm.NFKC.String(strings.TrimSpace(c.Title))
	if utf8.RuneCountInString(c.Title) > MaxTitleLen {
		return Invalidf("title", "must be at most %d characters", MaxTitleLen)
	}

	c.Content = CanonicalizeContent(c.Content)
	if c.Content == "" {
		return Invalidf("content", "must not be empty")
	}
	if utf8.RuneCountInString(c.Content) > MaxContentLen {
		return Invalidf("content", "must be at most %d characters", MaxContentLen)
	}

	if len(c.Tags) > MaxTagsPerCard {
		return Invalidf("tags", "at most %d tags allowed", MaxTagsPerCard)
	}
	tags := make([]string, 0, len(c.Tags))
	seen := make(map[string]bool, len(c.Tags))
	for _, tag := range c.Tags {
		tag = strings.ToLower(norm.NFKC.String(strings.TrimSpace(tag)))
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLen {
			return Invalidf("tags", "tag %q exceeds %d characters", tag, MaxTagLen)
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	c.Tags = tags

	if c.Metadata != nil {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			if !RecognizedMetadataKeys[k] {
				return Invalidf("metadata", "unrecognized key %q", k)
			}
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			meta[k] = v
		}
		c.Metadata = meta
	}

	return nil
}
