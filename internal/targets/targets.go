// Package targets builds download targets from single URLs, URL lists and URL
// templates, and resolves the local path each snapshot is saved to.
package targets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// Placeholder is the token replaced by each parameter in a URL template.
const Placeholder = "{}"

const maxFilenameLen = 200

// ErrNoPlaceholder is returned for a template without the {} placeholder.
var ErrNoPlaceholder = errors.New("template must contain the {} placeholder")

var (
	schemePrefix  = regexp.MustCompile(`^https?://`)
	illegalChars  = regexp.MustCompile(`[\\/:*?"<>|]`)
	illegalParams = regexp.MustCompile(`[\\/*?:"<>|]`)
)

// SanitizeFilename turns a URL or label into a safe single path segment of
// at most maxFilenameLen bytes, cut on a rune boundary.
func SanitizeFilename(s string) string {
	s = strings.TrimRight(s, "/")
	s = schemePrefix.ReplaceAllString(s, "")
	s = illegalChars.ReplaceAllString(s, "_")
	if len(s) > maxFilenameLen {
		cut := maxFilenameLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func fileName(base, timestamp string) string {
	if timestamp != "" {
		return base + "_" + timestamp + ".html"
	}
	return base + ".html"
}

// FromURLs builds one target per URL, in order. Duplicates are kept.
func FromURLs(urls []string, outputDir, timestamp string) []archive.Target {
	out := make([]archive.Target, 0, len(urls))
	for _, u := range urls {
		out = append(out, archive.Target{
			OriginalURL: u,
			Timestamp:   timestamp,
			SavePath:    filepath.Join(outputDir, fileName(SanitizeFilename(u), timestamp)),
		})
	}
	return out
}

// TemplateJob is the expansion of a URL template over its parameters.
type TemplateJob struct {
	// Subdir is the sanitized template host every target is saved under.
	Subdir  string
	Targets []archive.Target
	// Skipped lists parameters rejected because they were blank or
	// contained characters that cannot appear in a filename.
	Skipped []string
}

// FromTemplate expands template over params. Targets are saved under
// outputDir/<template host>/<param>[_<timestamp>].html.
func FromTemplate(template string, params []string, outputDir, timestamp string) (TemplateJob, error) {
	if !strings.Contains(template, Placeholder) {
		return TemplateJob{}, fmt.Errorf("%w: %q", ErrNoPlaceholder, template)
	}
	subdir := SanitizeFilename(templateHost(template))
	job := TemplateJob{Subdir: subdir}
	for _, p := range params {
		param := strings.TrimSpace(p)
		if param == "" || illegalParams.MatchString(param) {
			job.Skipped = append(job.Skipped, p)
			continue
		}
		job.Targets = append(job.Targets, archive.Target{
			OriginalURL: strings.ReplaceAll(template, Placeholder, param),
			Timestamp:   timestamp,
			SavePath:    filepath.Join(outputDir, subdir, fileName(param, timestamp)),
		})
	}
	return job, nil
}

// templateHost extracts the host of the template URL. The placeholder is
// blanked first so it cannot break parsing; templates without a scheme fall
// back to their leading path segment.
func templateHost(template string) string {
	probe := strings.ReplaceAll(template, Placeholder, "_")
	if !schemePrefix.MatchString(probe) {
		probe = "http://" + probe
	}
	if u, err := url.Parse(probe); err == nil && u.Host != "" {
		return u.Host
	}
	return "template"
}

// ReadLines returns the trimmed, non-blank lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return out, nil
}
