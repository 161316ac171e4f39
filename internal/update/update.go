// Package update looks up the latest toolguard release and compares it with
// the running build.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/toolguard/internal/version"
	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

const (
	releasesURL    = "https://api.github.com/repos/charmbracelet/toolguard/releases/latest"
	requestTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// Release is a published toolguard release.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Source returns the latest published release.
type Source interface {
	Latest(ctx context.Context) (Release, error)
}

// Default reads releases from the GitHub API.
var Default Source = GitHub{URL: releasesURL}

// GitHub is a [Source] backed by the GitHub REST API.
type GitHub struct {
	URL    string
	Client *http.Client
}

// Latest implements [Source].
func (g GitHub) Latest(ctx context.Context) (Release, error) {
	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("User-Agent", "toolguard/"+version.Version)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return Release{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Release{}, fmt.Errorf("GitHub API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return Release{}, fmt.Errorf("failed to decode release: %w", err)
	}
	if !semver.IsValid(canonical(rel.TagName)) {
		return Release{}, fmt.Errorf("release tag %q is not a semantic version", rel.TagName)
	}
	return rel, nil
}

// Info compares the running build with the latest release.
type Info struct {
	Current    string
	Latest     string
	ReleaseURL string
}

// IsDevelopment reports whether the running build has no release version:
// a local build or a pseudo-version from go install at a commit.
func (i Info) IsDevelopment() bool {
	v := canonical(i.Current)
	return !semver.IsValid(v) || module.IsPseudoVersion(v)
}

// Available reports whether the latest release is newer than the running
// build.
func (i Info) Available() bool {
	if i.IsDevelopment() || i.Latest == "" {
		return false
	}
	return semver.Compare(canonical(i.Latest), canonical(i.Current)) > 0
}

// Check fetches the latest release from src. Development builds are never
// compared and src is not called for them.
func Check(ctx context.Context, src Source) (Info, error) {
	info := Info{Current: strings.TrimPrefix(version.Version, "v")}
	if info.IsDevelopment() {
		return info, nil
	}

	rel, err := src.Latest(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	info.Latest = strings.TrimPrefix(rel.TagName, "v")
	info.ReleaseURL = rel.HTMLURL
	return info, nil
}

func canonical(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
