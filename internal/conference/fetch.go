package conference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "confwatch/pkg/logx"

	"go.yaml.in/yaml/v3"
	"golang.org/x/time/rate"
)

var ErrNetwork = errors.New("network error")

// NetworkError reports a failed remote fetch.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Fetcher retrieves the full set of conference records from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]Record, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]Record, error) { return f(ctx) }

// DefaultCategories maps category directories to display names.
var DefaultCategories = map[string]string{
	"arch":   "Computer Architecture",
	"design": "Circuit Design",
	"device": "Device",
	"eda":    "EDA",
}

// GitHubSource locates the YAML tree in a GitHub repository.
type GitHubSource struct {
	Owner      string
	Repo       string
	Branch     string
	Path       string
	Categories []string
	Token      string

	// APIBase defaults to https://api.github.com.
	APIBase string
}

// GitHubOptions tunes the HTTP side of GitHubFetcher.
type GitHubOptions struct {
	Timeout    time.Duration // per request
	RatePerSec float64       // 0 disables limiting
	Burst      int
	UserAgent  string
	Client     *http.Client
}

// GitHubFetcher lists category directories via the contents API and decodes
// every YAML file it finds.
type GitHubFetcher struct {
	src     GitHubSource
	opts    GitHubOptions
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewGitHubFetcher(src GitHubSource, opts GitHubOptions, log logx.Logger) *GitHubFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if src.APIBase == "" {
		src.APIBase = "https://api.github.com"
	}
	src.APIBase = strings.TrimRight(src.APIBase, "/")
	if src.Branch == "" {
		src.Branch = "main"
	}
	if len(src.Categories) == 0 {
		src.Categories = []string{"arch", "design", "device", "eda"}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "confwatch"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	var lim *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &GitHubFetcher{
		src:     src,
		opts:    opts,
		client:  client,
		limiter: lim,
		log:     log.With(logx.String("comp", "fetcher")),
	}
}

type contentEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// Fetch walks every category. Unreadable files and directories are logged and
// skipped. It fails when every directory listing fails, or when files were
// listed but none of them could be downloaded and parsed.
func (f *GitHubFetcher) Fetch(ctx context.Context) ([]Record, error) {
	var (
		out      []Record
		failed   int
		firstErr error

		attempted, loaded int
		fileErr           error
	)
	for _, cat := range f.src.Categories {
		entries, err := f.listDir(ctx, cat)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &NetworkError{URL: f.dirURL(cat), Err: ctx.Err()}
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			f.log.Warn("list category failed", logx.String("category", cat), logx.Err(err))
			continue
		}
		for _, e := range entries {
			if e.Type != "" && e.Type != "file" {
				continue
			}
			if !strings.HasSuffix(e.Name, ".yaml") && !strings.HasSuffix(e.Name, ".yml") {
				continue
			}
			attempted++
			body, err := f.get(ctx, e.DownloadURL)
			if err != nil {
				if ctx.Err() != nil {
					return nil, &NetworkError{URL: e.DownloadURL, Err: ctx.Err()}
				}
				if fileErr == nil {
					fileErr = err
				}
				f.log.Warn("download failed", logx.String("file", e.Name), logx.Err(err))
				continue
			}
			recs, err := ParseYAML(body, cat)
			if err != nil {
				if fileErr == nil {
					fileErr = &NetworkError{URL: e.DownloadURL, Err: err}
				}
				f.log.Warn("parse failed", logx.String("file", e.Name), logx.Err(err))
				continue
			}
			loaded++
			out = append(out, recs...)
		}
	}
	if failed > 0 && failed == len(f.src.Categories) {
		return nil, firstErr
	}
	if attempted > 0 && loaded == 0 {
		return nil, fileErr
	}
	f.log.Debug("fetch done", logx.Int("records", len(out)), logx.Int("files", loaded),
		logx.Int("failed_files", attempted-loaded), logx.Int("failed_dirs", failed))
	return out, nil
}

func (f *GitHubFetcher) dirURL(cat string) string {
	p := strings.Trim(f.src.Path+"/"+cat, "/")
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s",
		f.src.APIBase, url.PathEscape(f.src.Owner), url.PathEscape(f.src.Repo), p, url.QueryEscape(f.src.Branch))
}

func (f *GitHubFetcher) listDir(ctx context.Context, cat string) ([]contentEntry, error) {
	body, err := f.get(ctx, f.dirURL(cat))
	if err != nil {
		return nil, err
	}
	var entries []contentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &NetworkError{URL: f.dirURL(cat), Err: fmt.Errorf("decode listing: %w", err)}
	}
	return entries, nil
}

func (f *GitHubFetcher) get(ctx context.Context, u string) ([]byte, error) {
	if u == "" {
		return nil, &NetworkError{Err: errors.New("empty url")}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: u, Err: err}
		}
	}
	rctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if strings.HasPrefix(u, f.src.APIBase) {
		req.Header.Set("Accept", "application/vnd.github+json")
		if f.src.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.src.Token)
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{URL: u, Status: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	return b, nil
}

// ---- YAML ----

type yamlRank Rank

// UnmarshalYAML accepts a bare string (CCF level) or a {ccf, core, thcpl} map.
func (r *yamlRank) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*r = yamlRank{CCF: strings.TrimSpace(n.Value)}
		return nil
	}
	var m Rank
	if err := n.Decode(&m); err != nil {
		return err
	}
	*r = yamlRank(m)
	return nil
}

type yamlTimeline struct {
	Deadline         string `yaml:"deadline"`
	AbstractDeadline string `yaml:"abstract_deadline"`
	Comment          string `yaml:"comment"`
}

type yamlConf struct {
	Year             yamlInt        `yaml:"year"`
	ID               string         `yaml:"id"`
	Link             string         `yaml:"link"`
	Timeline         []yamlTimeline `yaml:"timeline"`
	Timezone         string         `yaml:"timezone"`
	Date             string         `yaml:"date"`
	Place            string         `yaml:"place"`
	Deadline         string         `yaml:"deadline"`
	AbstractDeadline string         `yaml:"abstract_deadline"`
}

type yamlEntry struct {
	Title       *string    `yaml:"title"`
	Description *string    `yaml:"description"`
	Sub         string     `yaml:"sub"`
	Rank        *yamlRank  `yaml:"rank"`
	DBLP        string     `yaml:"dblp"`
	Confs       []yamlConf `yaml:"confs"`
}

type yamlInt int

func (v *yamlInt) UnmarshalYAML(n *yaml.Node) error {
	s := strings.Trim(strings.TrimSpace(n.Value), `"'`)
	if s == "" {
		*v = 0
		return nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("year %q: %w", n.Value, err)
	}
	*v = yamlInt(i)
	return nil
}

// ParseYAML decodes one conference file. Entries missing title or description
// are skipped. category names the directory the file came from.
func ParseYAML(b []byte, category string) ([]Record, error) {
	var entries []yamlEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.Title == nil || e.Description == nil {
			continue
		}
		rec := Record{
			ID:          e.DBLP,
			Title:       *e.Title,
			Description: *e.Description,
			Category:    e.Sub,
			DBLPKey:     e.DBLP,
		}
		if rec.Category == "" {
			if name, ok := DefaultCategories[category]; ok {
				rec.Category = name
			} else {
				rec.Category = category
			}
		}
		if e.Rank != nil {
			r := Rank(*e.Rank)
			if !r.IsZero() {
				rec.Rank = &r
			}
		}
		for _, c := range e.Confs {
			rec.Instances = append(rec.Instances, c.instance())
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c yamlConf) instance() Instance {
	in := Instance{
		Year:             int(c.Year),
		InstanceID:       c.ID,
		Date:             c.Date,
		Place:            c.Place,
		AbstractDeadline: c.AbstractDeadline,
		Deadline:         c.Deadline,
		Link:             c.Link,
		Timezone:         c.Timezone,
	}
	for i, t := range c.Timeline {
		name := t.Comment
		if name == "" {
			name = fmt.Sprintf("round %d", i+1)
		}
		in.Timeline = append(in.Timeline, TimelineItem{Name: name, Deadline: t.Deadline})
		// Newer files only carry deadlines inside the timeline.
		if in.Deadline == "" && t.Deadline != "" {
			in.Deadline = t.Deadline
			if in.AbstractDeadline == "" {
				in.AbstractDeadline = t.AbstractDeadline
			}
		}
	}
	return in
}
