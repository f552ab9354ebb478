// Package sitetest provides a scriptable in-memory portal implementing the
// site interfaces, for orchestrator, supervisor, and server tests.
package sitetest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/jonathan/apply-autopilot/internal/site"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Job scripts the behavior of one listing.
type Job struct {
	Detail     site.JobDetail
	OpenErr    error
	InspectErr error
	ApplyErr   error
	PollErr    error
	// Chat is the sequence of chatbot states. Each answer advances one state;
	// polls past the end repeat the last state. Empty means the apply
	// succeeds immediately.
	Chat []site.ChatState
	// PanicOnInspect makes Inspect panic.
	PanicOnInspect bool
}

// Answered records one answer sent to the chatbot.
type Answered struct {
	ListingURL string
	QuestionID string
	Value      string
}

// Portal is a fake job portal. Configure its exported fields before launching.
type Portal struct {
	PageParam string
	// Pages maps a page number to the listing URLs shown on it.
	Pages map[int][]string
	Jobs  map[string]*Job

	LaunchErr error
	LoginErr  error
	// LoginRejected keeps the login markers present after Login.
	LoginRejected bool
	// FailPage makes loading page N fail that many times.
	FailPage map[int]int
	// Hold, when non-nil, blocks every ListingURLs call until closed or ctx ends.
	Hold chan struct{}

	mu       sync.Mutex
	launches int
	closed   int
	loggedIn bool
	visited  []string
	opened   []string
	openTabs int
	answers  []Answered
	polls    int
	emptyHit map[int]int
}

// NewPortal returns an empty portal using the pageNo parameter.
func NewPortal() *Portal {
	return &Portal{
		PageParam: "pageNo",
		Pages:     make(map[int][]string),
		Jobs:      make(map[string]*Job),
		FailPage:  make(map[int]int),
		emptyHit:  make(map[int]int),
	}
}

// AddPage appends listings to page n, registering a job for each.
func (p *Portal) AddPage(n int, jobs map[string]*Job, order ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range order {
		p.Pages[n] = append(p.Pages[n], u)
		if j, ok := jobs[u]; ok {
			p.Jobs[u] = j
		}
	}
}

// Launch implements site.Launcher.
func (p *Portal) Launch(_ context.Context) (site.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LaunchErr != nil {
		return nil, &site.LaunchError{Cause: p.LaunchErr}
	}
	p.launches++
	return &session{portal: p}, nil
}

// Launches returns how many sessions were launched.
func (p *Portal) Launches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launches
}

// Closed returns how many sessions were closed.
func (p *Portal) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Visited returns every results page URL requested, in order.
func (p *Portal) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

// Opened returns every listing URL opened, in order.
func (p *Portal) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opened...)
}

// OpenTabs returns the number of job tabs not yet closed.
func (p *Portal) OpenTabs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openTabs
}

// Answers returns every chatbot answer sent, in order.
func (p *Portal) Answers() []Answered {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Answered(nil), p.answers...)
}

// Polls returns how many chatbot polls were made across all jobs.
func (p *Portal) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// EmptyHits returns how many times page n was served with no listings.
func (p *Portal) EmptyHits(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emptyHit[n]
}

type session struct {
	portal *Portal
	once   sync.Once
}

func (s *session) Login(_ context.Context, creds types.Credentials) error {
	p := s.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoginErr != nil {
		return p.LoginErr
	}
	if creds.Identity == "" || creds.Secret.Empty() {
		return errors.New("empty credentials")
	}
	p.loggedIn = !p.LoginRejected
	return nil
}

func (s *session) LoginPending(_ context.Context) (bool, error) {
	p := s.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.loggedIn, nil
}

func (s *session) ListingURLs(ctx context.Context, pageURL string) ([]string, error) {
	p := s.portal
	if p.Hold != nil {
		select {
		case <-p.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, pageURL)

	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	n := 1
	if raw := u.Query().Get(p.PageParam); raw != "" {
		if n, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("bad page number %q", raw)
		}
	}
	if p.FailPage[n] > 0 {
		p.FailPage[n]--
		return nil, fmt.Errorf("page %d failed to load", n)
	}
	listings := p.Pages[n]
	if len(listings) == 0 {
		p.emptyHit[n]++
	}
	return append([]string(nil), listings...), nil
}

func (s *session) OpenJob(_ context.Context, listingURL string) (site.JobPage, error) {
	p := s.portal
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, listingURL)
	job, ok := p.Jobs[listingURL]
	if !ok {
		return nil, fmt.Errorf("no such listing %s", listingURL)
	}
	if job.OpenErr != nil {
		return nil, job.OpenErr
	}
	p.openTabs++
	return &jobPage{portal: p, url: listingURL, job: job}, nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.portal.mu.Lock()
		s.portal.closed++
		s.portal.mu.Unlock()
	})
	return nil
}

type jobPage struct {
	portal   *Portal
	url      string
	job      *Job
	applied  bool
	answered int
	once     sync.Once
}

func (j *jobPage) Inspect(_ context.Context) (site.JobDetail, error) {
	if j.job.PanicOnInspect {
		panic("inspect blew up")
	}
	if j.job.InspectErr != nil {
		return site.JobDetail{}, j.job.InspectErr
	}
	return j.job.Detail, nil
}

func (j *jobPage) Apply(_ context.Context) error {
	if j.job.ApplyErr != nil {
		return j.job.ApplyErr
	}
	j.applied = true
	return nil
}

func (j *jobPage) PollChat(_ context.Context) (site.ChatState, error) {
	j.portal.mu.Lock()
	j.portal.polls++
	j.portal.mu.Unlock()
	if j.job.PollErr != nil {
		return site.ChatState{}, j.job.PollErr
	}
	if !j.applied {
		return site.ChatState{}, nil
	}
	if len(j.job.Chat) == 0 {
		return site.ChatState{Submitted: true}, nil
	}
	i := j.answered
	if i >= len(j.job.Chat) {
		i = len(j.job.Chat) - 1
	}
	return j.job.Chat[i], nil
}

func (j *jobPage) Answer(_ context.Context, q site.Question, value string) error {
	j.portal.mu.Lock()
	j.portal.answers = append(j.portal.answers, Answered{ListingURL: j.url, QuestionID: q.ID, Value: value})
	j.portal.mu.Unlock()
	j.answered++
	return nil
}

func (j *jobPage) Close() error {
	j.once.Do(func() {
		j.portal.mu.Lock()
		j.portal.openTabs--
		j.portal.mu.Unlock()
	})
	return nil
}

// Question builds a text question.
func Question(id, text string) *site.Question {
	return &site.Question{ID: id, Text: text, Kind: site.QuestionText}
}

// Choice builds a choice question; each option ID is "opt-" plus its label.
func Choice(id, text string, labels ...string) *site.Question {
	q := &site.Question{ID: id, Text: text, Kind: site.QuestionChoice}
	for _, l := range labels {
		q.Options = append(q.Options, site.Option{ID: "opt-" + l, Label: l})
	}
	return q
}

// GoodDirect returns a job detail that passes the default policy with a direct apply path.
func GoodDirect(title string) site.JobDetail {
	return site.JobDetail{
		Signals: types.MatchSignals{
			Skills: types.SignalMatch, Location: types.SignalMatch, Experience: types.SignalMatch,
			Salary: types.SignalMatch, EarlyApplicant: types.SignalMatch,
		},
		Metadata:  types.JobMetadata{Title: title, Company: "Acme"},
		ApplyPath: types.ApplyPathDirect,
	}
}
