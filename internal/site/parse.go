package site

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// ParseListings extracts absolute listing URLs from a rendered results page,
// resolving relative links against pageURL. Order is preserved; repeats within
// the page are dropped.
func ParseListings(html, pageURL string, sel *Selectors) ([]string, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page URL: %w", err)
	}

	seen := make(map[string]bool)
	var listings []string
	doc.Find(sel.Results.Listing).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		link := abs.String()
		if seen[link] {
			return
		}
		seen[link] = true
		listings = append(listings, link)
	})
	return listings, nil
}

// ParseJobDetail extracts match signals, metadata, and the apply path from a
// rendered job page. Missing indicators are reported as unknown.
func ParseJobDetail(html string, sel *Selectors) (JobDetail, error) {
	doc, err := newDocument(html)
	if err != nil {
		return JobDetail{}, err
	}

	var detail JobDetail
	detail.Signals = parseSignals(doc, &sel.Job)
	detail.Metadata = types.JobMetadata{
		Title:      firstText(doc, sel.Job.Title),
		Company:    firstText(doc, sel.Job.Company),
		Salary:     firstText(doc, sel.Job.Salary),
		Location:   firstText(doc, sel.Job.Location),
		Experience: firstText(doc, sel.Job.Experience),
		PostedAgo:  firstText(doc, sel.Job.PostedAgo),
	}

	switch {
	case present(doc.Selection, sel.Job.AlreadyApplied):
		detail.ApplyPath = types.ApplyPathUnavailable
	case present(doc.Selection, sel.Job.ApplyButton):
		detail.ApplyPath = types.ApplyPathDirect
	case present(doc.Selection, sel.Job.ExternalApply):
		detail.ApplyPath = types.ApplyPathExternal
	default:
		detail.ApplyPath = types.ApplyPathUnavailable
	}
	return detail, nil
}

func parseSignals(doc *goquery.Document, sel *JobSelectors) types.MatchSignals {
	values := make(map[string]types.Signal, len(signalKeys))
	doc.Find(sel.SignalItem).Each(func(_ int, item *goquery.Selection) {
		label := strings.ToLower(cleanWhitespace(item.Text()))
		for _, key := range signalKeys {
			if _, done := values[key]; done {
				continue
			}
			if !strings.Contains(label, strings.ToLower(sel.SignalLabels[key])) {
				continue
			}
			switch {
			case present(item, sel.SignalPositive):
				values[key] = types.SignalMatch
			case present(item, sel.SignalNegative):
				values[key] = types.SignalMismatch
			default:
				values[key] = types.SignalUnknown
			}
			return
		}
	})

	get := func(key string) types.Signal {
		if v, ok := values[key]; ok {
			return v
		}
		return types.SignalUnknown
	}
	return types.MatchSignals{
		Skills:         get("skills"),
		Location:       get("location"),
		Experience:     get("experience"),
		Salary:         get("salary"),
		EarlyApplicant: get("early_applicant"),
	}
}

// ParseChat reads the chatbot drawer. The question ID is the ordinal of the
// latest bot message, so a new prompt always yields a new ID.
func ParseChat(html string, sel *Selectors) (ChatState, error) {
	doc, err := newDocument(html)
	if err != nil {
		return ChatState{}, err
	}

	var state ChatState
	if sel.Chat.Error != "" {
		state.Error = firstText(doc, sel.Chat.Error)
	}
	state.Submitted = present(doc.Selection, sel.Chat.Success)

	drawer := doc.Find(sel.Chat.Drawer).First()
	if drawer.Length() == 0 {
		return state, nil
	}
	state.Open = true

	messages := drawer.Find(sel.Chat.BotMessage)
	if messages.Length() == 0 {
		return state, nil
	}
	q := &Question{
		ID:   strconv.Itoa(messages.Length()),
		Text: cleanWhitespace(messages.Last().Text()),
	}

	drawer.Find(sel.Chat.Option).Each(func(_ int, input *goquery.Selection) {
		id, _ := input.Attr("id")
		if id == "" {
			return
		}
		label := cleanWhitespace(drawer.Find(`label[for="` + id + `"]`).First().Text())
		if label == "" {
			label, _ = input.Attr("value")
		}
		q.Options = append(q.Options, Option{ID: id, Label: label})
	})

	switch {
	case len(q.Options) > 0:
		q.Kind = QuestionChoice
	case present(drawer, sel.Chat.TextInput):
		q.Kind = QuestionText
	default:
		// Bot is still typing or showed a closing message with no input.
		return state, nil
	}
	state.Question = q
	return state, nil
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func present(s *goquery.Selection, selector string) bool {
	if selector == "" {
		return false
	}
	return s.Find(selector).Length() > 0
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanWhitespace(doc.Find(selector).First().Text())
}

// cleanWhitespace collapses runs of whitespace into single spaces.
func cleanWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
