package site

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsYAML []byte

// Selectors is the portal's DOM vocabulary.
type Selectors struct {
	Login   LoginSelectors  `yaml:"login"`
	Results ResultSelectors `yaml:"results"`
	Job     JobSelectors    `yaml:"job"`
	Chat    ChatSelectors   `yaml:"chat"`
}

// LoginSelectors locate the login form.
type LoginSelectors struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Submit   string `yaml:"submit"`
	// Marker is present only while the login page is showing.
	Marker string `yaml:"marker"`
}

// ResultSelectors locate listings on a search results page.
type ResultSelectors struct {
	Listing   string `yaml:"listing"`
	PageParam string `yaml:"page_param"`
}

// JobSelectors locate match signals, metadata, and apply controls on a job page.
type JobSelectors struct {
	Title          string            `yaml:"title"`
	Company        string            `yaml:"company"`
	Salary         string            `yaml:"salary"`
	Location       string            `yaml:"location"`
	Experience     string            `yaml:"experience"`
	PostedAgo      string            `yaml:"posted_ago"`
	SignalItem     string            `yaml:"signal_item"`
	SignalPositive string            `yaml:"signal_positive"`
	SignalNegative string            `yaml:"signal_negative"`
	SignalLabels   map[string]string `yaml:"signal_labels"`
	ApplyButton    string            `yaml:"apply_button"`
	ExternalApply  string            `yaml:"external_apply"`
	AlreadyApplied string            `yaml:"already_applied"`
}

// ChatSelectors locate the application chatbot.
type ChatSelectors struct {
	Drawer     string `yaml:"drawer"`
	BotMessage string `yaml:"bot_message"`
	Option     string `yaml:"option"`
	TextInput  string `yaml:"text_input"`
	Send       string `yaml:"send"`
	Success    string `yaml:"success"`
	Error      string `yaml:"error"`
}

// DefaultSelectors returns the embedded selector table.
func DefaultSelectors() *Selectors {
	sel, err := ParseSelectors(defaultSelectorsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded selectors are invalid: %v", err))
	}
	return sel
}

// LoadSelectors reads a selector table from path, or returns the embedded
// table when path is empty.
func LoadSelectors(path string) (*Selectors, error) {
	if path == "" {
		return DefaultSelectors(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}
	return ParseSelectors(data)
}

// ParseSelectors decodes and validates a YAML selector table.
func ParseSelectors(data []byte) (*Selectors, error) {
	var sel Selectors
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return nil, fmt.Errorf("failed to parse selectors: %w", err)
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return &sel, nil
}

// Validate checks that every selector the adapter depends on is set.
func (s *Selectors) Validate() error {
	required := map[string]string{
		"login.url":           s.Login.URL,
		"login.username":      s.Login.Username,
		"login.password":      s.Login.Password,
		"login.submit":        s.Login.Submit,
		"login.marker":        s.Login.Marker,
		"results.listing":     s.Results.Listing,
		"job.signal_item":     s.Job.SignalItem,
		"job.signal_positive": s.Job.SignalPositive,
		"job.signal_negative": s.Job.SignalNegative,
		"job.apply_button":    s.Job.ApplyButton,
		"chat.drawer":         s.Chat.Drawer,
		"chat.bot_message":    s.Chat.BotMessage,
		"chat.success":        s.Chat.Success,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("selector %s is required", name)
		}
	}
	for _, key := range signalKeys {
		if s.Job.SignalLabels[key] == "" {
			return fmt.Errorf("selector job.signal_labels.%s is required", key)
		}
	}
	return nil
}

// PageParam returns the results page query parameter, defaulting to pageNo.
func (s *Selectors) PageParam() string {
	if s.Results.PageParam == "" {
		return "pageNo"
	}
	return s.Results.PageParam
}

var signalKeys = []string{"skills", "location", "experience", "salary", "early_applicant"}
