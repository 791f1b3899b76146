// Package writer implements the outreach stage: one LLM-drafted email per
// eligible company, in match order. A failed model call degrades that one
// company to a template draft; every company always gets exactly one email.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/llm"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/roles"
)

const (
	// Prompt-side caps. The resume excerpt arrives pre-capped at 2500
	// chars; the draft prompt takes a shorter cut.
	promptBlurbChars  = 240
	promptResumeChars = 400

	draftMaxTokens   = 400
	draftTemperature = 0.5
)

const draftSystem = "You are an expert copywriter specializing in personalized, " +
	"professional outreach for top-tier tech talent. Your task is to write a " +
	"short, sharp, and compelling outreach email."

const draftTemplate = `Write an outreach email for the input below.

Constraints:
1. The email body must be under 120 words.
2. Tone: professional, direct, and slightly informal. Confident but not arrogant.
3. Return only the subject and body, exactly in this format, no extra text or markdown:
SUBJECT: <subject line>
BODY:
<email body>

Candidate:
- Target role: %s
- Key skills: %s
- Proof points: %s
- Resume snippet: %s

Company:
- Name: %s
- Website: %s
- Description: %s
- Job posting: %s
- Intelligence:
%s

Instructions:
1. Subject line: at most 12 words, referencing the specific job title.
2. Body: one sentence opening on the job posting or the company's tech, one or
two sentences connecting the candidate's proof points to it, and one closing
sentence asking for a brief chat.`

// Deps wires an Agent.
type Deps struct {
	Catalog *roles.Catalog
	Chat    llm.Chat
	Logger  *slog.Logger
}

// Agent implements the writer stage.
type Agent struct {
	catalog *roles.Catalog
	chat    llm.Chat
	logger  *slog.Logger
}

// NewAgent creates a writer agent.
func NewAgent(deps Deps) *Agent {
	return &Agent{
		catalog: deps.Catalog,
		chat:    deps.Chat,
		logger:  deps.Logger,
	}
}

// Draft generates one outreach email per company, preserving input order
// (best match first). Drafting is sequential so the email_drafted events
// follow match rank. A model failure degrades that company to a template
// draft; the stage fails only on context cancellation.
func (a *Agent) Draft(ctx context.Context, params engine.WriterParams, events chan<- model.TimelineEvent) (*model.WriterOutput, error) {
	profile := a.catalog.Lookup(params.Role)

	emails := make([]model.OutreachEmail, 0, len(params.Companies))
	for _, c := range params.Companies {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("writer: %w", err)
		}

		subject, body := fallbackDraft(params.Role, c.Name)
		reply, err := a.chat.Complete(ctx, llm.CompleteRequest{
			Model:       params.Model,
			System:      draftSystem,
			Prompt:      a.buildPrompt(params.Role, profile, c, params.ResumeExcerpt),
			MaxTokens:   draftMaxTokens,
			Temperature: draftTemperature,
		})
		if err != nil {
			a.logger.Warn("writer: draft failed, using template",
				"company", c.Name, "error", err)
			reason := fmt.Sprintf("draft for %s fell back to a template", c.Name)
			events <- model.NewEvent(model.AgentWriter, model.EventDegraded, model.LevelWarn,
				reason, model.DegradedPayload{Subject: c.Name, Reason: reason})
		} else {
			s, b := parseDraft(reply)
			if s != "" {
				subject = s
			}
			if b != "" {
				body = b
			}
		}

		email := model.OutreachEmail{Company: c.Name, Subject: subject, Body: body}
		if c.JobPosting != nil && c.JobPosting.URL != "" {
			email.JobURL = c.JobPosting.URL
			if !strings.Contains(email.Body, "Apply here:") {
				email.Body += "\n\nApply here: " + c.JobPosting.URL
			}
		}
		email.Mailto = mailtoLink(c.ContactHint, email.Subject, email.Body)
		emails = append(emails, email)

		events <- model.NewEvent(model.AgentWriter, model.EventEmailDrafted, model.LevelInfo,
			fmt.Sprintf("drafted outreach to %s", c.Name),
			model.EmailDraftedPayload{Company: c.Name, Subject: email.Subject})
	}

	a.logger.Info("writer: drafted outreach", "emails", len(emails), "role", params.Role)
	return &model.WriterOutput{Emails: emails}, nil
}

func (a *Agent) buildPrompt(role string, profile roles.Profile, c model.CompanyIntel, excerpt string) string {
	resume := "Not provided"
	if excerpt != "" {
		resume = capText(excerpt, promptResumeChars)
	}
	return fmt.Sprintf(draftTemplate,
		role,
		strings.Join(profile.ValueProps, ", "),
		strings.Join(profile.Proofs, ", "),
		resume,
		c.Name,
		c.Homepage,
		capText(c.Description, promptBlurbChars),
		jobContext(c, role),
		intelContext(c.Intel),
	)
}

func jobContext(c model.CompanyIntel, role string) string {
	if c.JobPosting == nil {
		return fmt.Sprintf("none found, write a cold outreach for the %s role", role)
	}
	title := c.JobPosting.Title
	if title == "" {
		title = role
	}
	s := fmt.Sprintf("%s (%s)", title, c.JobPosting.URL)
	if c.JobPosting.Snippet != "" {
		s += ": " + c.JobPosting.Snippet
	}
	return s
}

// intelContext renders the research bundle for the prompt, one line per
// fetched facet.
func intelContext(b *model.IntelBundle) string {
	const none = "No specific intelligence gathered. Rely on the company description."
	if b == nil {
		return none
	}
	var lines []string
	add := func(label string, f *model.Facet) {
		if f != nil && f.Summary != "" {
			lines = append(lines, "- "+label+": "+f.Summary)
		}
	}
	add("Recent news", b.News)
	add("Tech stack", b.TechStack)
	add("Funding", b.Funding)
	add("Culture", b.Culture)
	add("Growth", b.Growth)
	if len(lines) == 0 {
		return none
	}
	return strings.Join(lines, "\n")
}

// fallbackDraft is the template used when the model call fails or returns
// nothing parseable.
func fallbackDraft(role, company string) (subject, body string) {
	subject = fmt.Sprintf("%s at %s", role, company)
	body = fmt.Sprintf("Hi %s team, I'm interested in the %s role.", company, role)
	return subject, body
}

// subjectRe keeps horizontal whitespace only: an empty SUBJECT: line must
// not capture the next line.
var (
	subjectRe = regexp.MustCompile(`SUBJECT:[ \t]*(.*)`)
	bodyRe    = regexp.MustCompile(`(?s)BODY:\s*(.*)`)
)

// parseDraft splits a model reply into subject and body. Replies should
// carry SUBJECT: and BODY: markers; without a subject marker the first
// line serves as subject, without a body marker the remaining text serves
// as body. An empty reply returns two empty strings.
func parseDraft(text string) (subject, body string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}

	rest := text
	if m := subjectRe.FindStringSubmatchIndex(text); m != nil {
		subject = strings.TrimSpace(text[m[2]:m[3]])
		rest = strings.TrimSpace(text[:m[0]] + text[m[1]:])
	} else {
		subject, _, _ = strings.Cut(text, "\n")
		subject = strings.TrimSpace(subject)
	}

	if m := bodyRe.FindStringSubmatch(text); m != nil {
		body = strings.TrimSpace(m[1])
	} else {
		body = rest
	}
	return subject, body
}

// mailtoLink assembles a mailto: URL. The recipient is filled in only when
// the contact hint looks like an address; a careers-page hint leaves it
// blank.
func mailtoLink(contactHint, subject, body string) string {
	to := ""
	if strings.Contains(contactHint, "@") && !strings.Contains(contactHint, "://") {
		to = contactHint
	}
	return "mailto:" + to + "?subject=" + escapeMailto(subject) + "&body=" + escapeMailto(body)
}

// escapeMailto percent-encodes a mailto query value. QueryEscape's
// plus-for-space reads as a literal plus in mail clients, so spaces become
// %20.
func escapeMailto(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// capText truncates to at most max bytes without splitting a rune.
func capText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
