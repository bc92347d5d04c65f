// Package matcher reconciles a completed batch's raw output with the
// manifest that produced it, classifying every line as a success or an
// error without ever failing the batch on a single bad record.
package matcher

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/locflow/locflow/internal/manifest"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ProcessedTranslation is the outcome of matching one output line to its
// request record. Never mutated after creation.
type ProcessedTranslation struct {
	CustomID     string        `json:"customId"`
	TargetLocale string        `json:"targetLocale"`
	Kind         manifest.Kind `json:"kind"`
	Category     string        `json:"category"`
	Path         string        `json:"path"`
	Text         string        `json:"text,omitempty"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
}

type outputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error json.RawMessage `json:"error"`
}

type completionBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Processor matches output lines against manifests.
type Processor struct {
	logger *slog.Logger
}

func NewProcessor(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Process splits rawOutput into non-blank lines and resolves each one
// independently. A line that cannot be parsed, or that lacks custom_id or
// a response block, is logged and skipped; a line whose custom_id has no
// manifest record, or whose response is unusable, yields an error-status
// result. Every line is attempted; nothing here aborts the batch.
func (p *Processor) Process(man *manifest.Manifest, rawOutput []byte) []ProcessedTranslation {
	var results []ProcessedTranslation

	for i, raw := range bytes.Split(rawOutput, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var line outputLine
		if err := json.Unmarshal(raw, &line); err != nil {
			p.logger.Warn("skipping unparsable output line",
				"batchId", man.BatchID, "line", i+1, "error", err)
			continue
		}
		if line.CustomID == "" || line.Response == nil {
			p.logger.Warn("skipping output line without custom_id or response",
				"batchId", man.BatchID, "line", i+1)
			continue
		}

		rec, ok := man.Record(line.CustomID)
		if !ok {
			results = append(results, ProcessedTranslation{
				CustomID: line.CustomID,
				Status:   StatusError,
				Error:    "No matching record in manifest",
			})
			continue
		}

		result := ProcessedTranslation{
			CustomID:     rec.CustomID,
			TargetLocale: rec.TargetLocale,
			Kind:         rec.Kind,
			Category:     rec.Category,
			Path:         rec.Path,
		}

		text, errMsg := extractContent(line)
		if errMsg != "" {
			result.Status = StatusError
			result.Error = errMsg
		} else {
			result.Status = StatusSuccess
			result.Text = DecodeUnicodeEscapes(text)
		}
		results = append(results, result)
	}

	return results
}

// extractContent returns the completion text, or an error message when the
// line represents a failure.
func extractContent(line outputLine) (string, string) {
	if line.Response.StatusCode != 200 {
		if msg := providerErrorMessage(line); msg != "" {
			return "", msg
		}
		return "", "provider returned status " + strconv.Itoa(line.Response.StatusCode)
	}

	var body completionBody
	if err := json.Unmarshal(line.Response.Body, &body); err != nil {
		return "", "unparsable response body: " + err.Error()
	}
	if body.Error != nil && body.Error.Message != "" {
		return "", body.Error.Message
	}
	if len(body.Choices) == 0 || body.Choices[0].Message.Content == "" {
		return "", "response contains no completion text"
	}
	return body.Choices[0].Message.Content, ""
}

func providerErrorMessage(line outputLine) string {
	if len(line.Error) > 0 && !bytes.Equal(line.Error, []byte("null")) {
		var block struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(line.Error, &block); err == nil && block.Message != "" {
			return block.Message
		}
		return string(line.Error)
	}
	var body completionBody
	if err := json.Unmarshal(line.Response.Body, &body); err == nil && body.Error != nil {
		return body.Error.Message
	}
	return ""
}

// DecodeUnicodeEscapes normalizes literal \uXXXX sequences left in the
// text by providers that double-escape Unicode, including surrogate
// pairs. Anything that is not a well-formed escape is left untouched.
func DecodeUnicodeEscapes(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+6 <= len(s) && s[i+1] == 'u' {
			if r, ok := parseEscape(s[i+2 : i+6]); ok {
				if utf16.IsSurrogate(r) && i+12 <= len(s) && s[i+6] == '\\' && s[i+7] == 'u' {
					if r2, ok2 := parseEscape(s[i+8 : i+12]); ok2 {
						if combined := utf16.DecodeRune(r, r2); combined != 0xFFFD {
							b.WriteRune(combined)
							i += 12
							continue
						}
					}
				}
				if !utf16.IsSurrogate(r) {
					b.WriteRune(r)
					i += 6
					continue
				}
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func parseEscape(hex string) (rune, bool) {
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

// UnwrapTranslation extracts the document from a completion that wraps it
// in a {"translation": ...} envelope, as the JSON prompt requests. Returns
// the raw text unchanged when no envelope is present, so callers can feed
// it markdown output too.
func UnwrapTranslation(text string) (json.RawMessage, bool) {
	var envelope struct {
		Translation json.RawMessage `json:"translation"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil || len(envelope.Translation) == 0 {
		return json.RawMessage(text), false
	}
	return envelope.Translation, true
}
