package answer

import (
	"strconv"
	"strings"

	"github.com/jonathan/apply-autopilot/internal/types"
)

// rule answers questions containing any of its keywords. Rules are tried in
// order, so more specific phrasings come before the general ones they contain.
type rule struct {
	name     string
	keywords []string
	value    func(question string, p types.UserProfile) string
}

var rules = []rule{
	{
		name:     "expected_ctc",
		keywords: []string{"expected ctc", "expected salary", "expected compensation", "expected package", "salary expectation"},
		value:    func(_ string, p types.UserProfile) string { return p.ExpectedCTC },
	},
	{
		name:     "current_ctc",
		keywords: []string{"current ctc", "current salary", "current compensation", "current package", "ctc", "salary"},
		value: func(q string, p types.UserProfile) string {
			if strings.Contains(q, "expected") {
				return ""
			}
			return p.CurrentCTC
		},
	},
	{
		name:     "notice_period",
		keywords: []string{"notice period", "notice", "how soon can you join", "joining time", "earliest joining"},
		value:    func(_ string, p types.UserProfile) string { return p.NoticePeriod },
	},
	{
		name:     "experience",
		keywords: []string{"years of experience", "experience", "how many years"},
		value:    experienceAnswer,
	},
	{
		name:     "relocate",
		keywords: []string{"relocate", "relocation"},
		value: func(_ string, p types.UserProfile) string {
			if p.Location == "" {
				return ""
			}
			return "Yes"
		},
	},
	{
		name:     "location",
		keywords: []string{"current location", "location", "which city", "based in", "where do you live"},
		value:    func(_ string, p types.UserProfile) string { return p.Location },
	},
	{
		name:     "email",
		keywords: []string{"email", "e-mail"},
		value:    func(_ string, p types.UserProfile) string { return p.Email },
	},
	{
		name:     "phone",
		keywords: []string{"phone", "mobile", "contact number"},
		value:    func(_ string, p types.UserProfile) string { return p.Phone },
	},
	{
		name:     "name",
		keywords: []string{"your name", "full name", "candidate name"},
		value:    func(_ string, p types.UserProfile) string { return p.Name },
	},
	{
		name:     "role",
		keywords: []string{"current role", "current designation", "designation", "job title"},
		value:    func(_ string, p types.UserProfile) string { return p.TargetRole },
	},
	{
		name:     "skills",
		keywords: []string{"key skills", "your skills", "skills"},
		value:    func(_ string, p types.UserProfile) string { return strings.Join(p.Skills, ", ") },
	},
}

// matchRule returns the first rule that matches question and has a value in profile.
func matchRule(question string, profile types.UserProfile) (string, string, bool) {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return "", "", false
	}
	if q == "name" || q == "name?" {
		if profile.Name != "" {
			return "name", profile.Name, true
		}
	}

	for _, r := range rules {
		if !containsAny(q, r.keywords) {
			continue
		}
		if value := strings.TrimSpace(r.value(q, profile)); value != "" {
			return r.name, value, true
		}
	}
	return "", "", false
}

// experienceAnswer answers with the years for the skill the question names,
// falling back to total years.
func experienceAnswer(q string, p types.UserProfile) string {
	best := ""
	for skill := range p.SkillExperience {
		name := strings.ToLower(strings.TrimSpace(skill))
		if name == "" || !mentions(q, name) {
			continue
		}
		// Longest name wins so "java" does not shadow "java ee".
		if len(skill) > len(best) || (len(skill) == len(best) && skill < best) {
			best = skill
		}
	}
	if best != "" {
		if years := p.SkillExperience[best]; years > 0 {
			return formatYears(years)
		}
	}
	return formatYears(p.YearsOfExperience)
}

// mentions reports whether q contains word as a whole word. Words may carry
// punctuation such as "c++" or "node.js".
func mentions(q, word string) bool {
	for from := 0; from < len(q); {
		i := strings.Index(q[from:], word)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(word)
		if !wordByte(q, start-1) && !wordByte(q, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80
}

func formatYears(years float64) string {
	if years <= 0 {
		return ""
	}
	return strconv.FormatFloat(years, 'f', -1, 64)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
