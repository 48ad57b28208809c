package coretools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bayu/arion/pkg/tool"
	"golang.org/x/net/html"
)

const snippetCap = 200

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func webSearchTool(cfg Config) tool.Definition {
	return tool.Definition{
		Name: "web_search",
		Description: "Search the web for information. Returns titles, URLs, and snippets. " +
			"Use when you need current information, facts, or to find resources.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"num_results": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results (default: 8)",
				},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (*tool.Result, error) {
			query, _ := args["query"].(string)
			numResults := 8
			if v, ok := args["num_results"].(float64); ok && v > 0 {
				numResults = int(v)
			}

			results, err := ddgSearch(ctx, cfg, query, numResults)
			if err != nil {
				return &tool.Result{Success: false, Error: fmt.Sprintf("search error: %v", err)}, nil
			}

			if len(results) == 0 {
				return &tool.Result{Success: true, Output: "No results found. Try a different query."}, nil
			}

			lines := []string{fmt.Sprintf("Search results for: %q\n", query)}
			for i, r := range results {
				lines = append(lines, fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet))
			}

			return &tool.Result{Success: true, Output: strings.Join(lines, "\n")}, nil
		},
	}
}

// ddgSearch scrapes the DuckDuckGo HTML endpoint, which needs no API key.
func ddgSearch(ctx context.Context, cfg Config, query string, numResults int) ([]searchResult, error) {
	reqURL := cfg.SearchBaseURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	results := []searchResult{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= numResults {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") {
			if r, ok := parseResult(n); ok {
				results = append(results, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return results, nil
}

// parseResult extracts title, link, and snippet from one result block.
func parseResult(n *html.Node) (searchResult, bool) {
	var r searchResult

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if node.Data == "a" && hasClass(node, "result__a") && r.Title == "" {
				r.Title = textContent(node)
				r.URL = unwrapRedirect(attr(node, "href"))
			}
			if hasClass(node, "result__snippet") && r.Snippet == "" {
				r.Snippet = textContent(node)
				if len(r.Snippet) > snippetCap {
					r.Snippet = r.Snippet[:snippetCap]
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return r, r.Title != ""
}

// unwrapRedirect resolves DuckDuckGo's /l/?uddg= redirect links to the
// destination URL.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
