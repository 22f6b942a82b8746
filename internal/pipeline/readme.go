package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"arbiter/internal/services"
)

const readmeByteCap = 4000

// fetchReadme pulls a repository README through the GitHub contents API,
// capped to the prompt budget. Only github.com repositories are supported;
// anything else degrades to no README.
func fetchReadme(ctx context.Context, client *http.Client, repoURL string) (string, error) {
	owner, repo, err := parseGitHubRepo(repoURL)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("https://api.github.com/repos/%s/%s/readme", owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", "readme", "build request", err)
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")

	resp, err := client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", "readme", "http error", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", services.Wrap(services.ErrUnavailable, "analyzing", "readme", "repository has no readme", nil)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrNetwork, "analyzing", "readme",
			fmt.Sprintf("github returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, readmeByteCap))
	if err != nil {
		return "", services.Wrap(services.ErrNetwork, "analyzing", "readme", "read response", err)
	}
	return string(body), nil
}

func parseGitHubRepo(repoURL string) (owner, repo string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return "", "", services.Wrap(services.ErrValidation, "analyzing", "readme", "repo url invalid", err)
	}
	if !strings.EqualFold(parsed.Host, "github.com") {
		return "", "", services.Wrap(services.ErrValidation, "analyzing", "readme", "only github repositories supported", nil)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", services.Wrap(services.ErrValidation, "analyzing", "readme", "repo url missing owner/name", nil)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
