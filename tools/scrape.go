package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/m4xw311/egoist/errors"
)

const WebScrapeToolName = "web_scrape"

type WebScrapeTask struct {
	URL        string            `json:"url" jsonschema_description:"URL of the page to scrape"`
	DataPoints map[string]string `json:"data_points" jsonschema_description:"Mapping of data point names to CSS selectors. THIS FIELD IS NECESSARY."`
	Markdown   bool              `json:"markdown,omitempty" jsonschema_description:"Also return the whole page converted to markdown"`
}

type WebScrapeInput struct {
	Tasks []WebScrapeTask `json:"tasks" jsonschema_description:"Web scraping tasks to perform. Every task must include a URL and MUST INCLUDE data_points"`
}

type scrapeResult struct {
	URL        string              `json:"url"`
	DataPoints map[string][]string `json:"data_points"`
	Markdown   string              `json:"markdown,omitempty"`
}

type webScrapeTool struct {
	client *http.Client
}

// NewWebScrapeTool creates the web_scrape tool. A nil client uses
// http.DefaultClient.
func NewWebScrapeTool(client *http.Client) (Tool, error) {
	if client == nil {
		client = http.DefaultClient
	}
	t := &webScrapeTool{client: client}
	return NewTool(WebScrapeToolName,
		"Scrape structured information from web pages based on provided CSS selectors. A data_points mapping MUST be provided.",
		t.execute)
}

func (t *webScrapeTool) execute(ctx context.Context, in WebScrapeInput) (string, error) {
	results := make([]any, 0, len(in.Tasks))
	for _, task := range in.Tasks {
		res, err := t.scrape(ctx, task)
		if err != nil {
			results = append(results, fmt.Sprintf("Got error on %s: %v", task.URL, err))
			continue
		}
		results = append(results, res)
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode scrape results")
	}
	return string(data), nil
}

func (t *webScrapeTool) scrape(ctx context.Context, task WebScrapeTask) (*scrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse page")
	}

	res := &scrapeResult{URL: task.URL, DataPoints: make(map[string][]string, len(task.DataPoints))}
	for name, selector := range task.DataPoints {
		values := []string{}
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
		res.DataPoints[name] = values
	}

	if task.Markdown {
		page, err := doc.Html()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to render page")
		}
		md, err := htmltomarkdown.ConvertString(page)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to convert page to markdown")
		}
		res.Markdown = md
	}
	return res, nil
}
