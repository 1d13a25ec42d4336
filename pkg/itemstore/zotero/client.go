// Package zotero implements the itemstore contract against the Zotero Web
// API. The client stays deliberately narrow: it normalizes each fetched entry
// into the engine's fixed structs at decode time and knows nothing about the
// library's query language.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

const (
	// DefaultBaseURL is the public Zotero Web API endpoint.
	DefaultBaseURL = "https://api.zotero.org"

	// OutputTag marks analysis notes written by this engine so re-runs can
	// recognize prior output.
	OutputTag = "paperflow:analysis"

	requestTimeout = 30 * time.Second
)

var collectionKeyPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// Client talks to one Zotero user or group library.
type Client struct {
	baseURL       string
	libraryPrefix string
	apiKey        string
	httpClient    *http.Client
	converter     *md.Converter
	logger        *slog.Logger
}

// Config carries the connection settings for one library.
type Config struct {
	BaseURL     string // Defaults to DefaultBaseURL
	LibraryType string // "user" or "group"
	LibraryID   string
	APIKey      string
}

// NewClient creates a client for the configured library.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.LibraryID == "" {
		return nil, fmt.Errorf("zotero library ID is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	libraryType := cfg.LibraryType
	if libraryType == "" {
		libraryType = "user"
	}

	if libraryType != "user" && libraryType != "group" {
		return nil, fmt.Errorf("unsupported zotero library type %q", libraryType)
	}

	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		libraryPrefix: "/" + libraryType + "s/" + cfg.LibraryID,
		apiKey:        cfg.APIKey,
		httpClient:    &http.Client{Timeout: requestTimeout},
		converter:     md.NewConverter("", true, nil),
		logger:        logger,
	}, nil
}

// entry is the wire shape of one Zotero item; only the data envelope matters.
type entry struct {
	Key  string `json:"key"`
	Data struct {
		Key          string `json:"key"`
		ItemType     string `json:"itemType"`
		Title        string `json:"title"`
		AbstractNote string `json:"abstractNote"`
		Date         string `json:"date"`
		URL          string `json:"url"`
		DOI          string `json:"DOI"`
		ContentType  string `json:"contentType"`
		Note         string `json:"note"`
		ParentItem   string `json:"parentItem"`
		Creators     []struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Name      string `json:"name"`
		} `json:"creators"`
		Tags []struct {
			Tag string `json:"tag"`
		} `json:"tags"`
		AnnotationType      string `json:"annotationType"`
		AnnotationText      string `json:"annotationText"`
		AnnotationComment   string `json:"annotationComment"`
		AnnotationPageLabel string `json:"annotationPageLabel"`
	} `json:"data"`
}

// GetItem fetches and normalizes one item's metadata.
func (c *Client) GetItem(ctx context.Context, key string) (*models.ItemMetadata, error) {
	var item entry
	if err := c.getJSON(ctx, "/items/"+key, nil, &item); err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", key, err)
	}

	metadata := normalizeItem(&item)

	return &metadata, nil
}

// GetItemChildren returns the item's child records.
func (c *Client) GetItemChildren(ctx context.Context, key string) ([]models.Attachment, error) {
	var children []entry
	if err := c.getJSON(ctx, "/items/"+key+"/children", nil, &children); err != nil {
		return nil, fmt.Errorf("failed to fetch children of %s: %w", key, err)
	}

	attachments := make([]models.Attachment, 0, len(children))

	for _, child := range children {
		if child.Data.ItemType == "annotation" {
			continue
		}

		attachments = append(attachments, models.Attachment{
			Key:         child.Key,
			Title:       child.Data.Title,
			ContentType: child.Data.ContentType,
			ItemType:    child.Data.ItemType,
			Note:        child.Data.Note,
		})
	}

	return attachments, nil
}

// GetFullText returns the item's extracted full text, falling back to the
// first attachment child when the item itself carries none. HTML content is
// converted to Markdown once, here.
func (c *Client) GetFullText(ctx context.Context, key string) (string, bool, error) {
	text, found, err := c.fullTextOf(ctx, key)
	if err != nil {
		return "", false, err
	}

	if !found {
		children, err := c.GetItemChildren(ctx, key)
		if err != nil {
			return "", false, err
		}

		for _, child := range children {
			if child.ItemType != "attachment" {
				continue
			}

			text, found, err = c.fullTextOf(ctx, child.Key)
			if err != nil {
				return "", false, err
			}

			if found {
				break
			}
		}
	}

	if !found {
		return "", false, nil
	}

	if looksLikeHTML(text) {
		markdown, err := c.converter.ConvertString(text)
		if err != nil {
			c.logger.Warn("Failed to convert full text to markdown, keeping raw content",
				"item_key", key, "error", err)
		} else {
			text = markdown
		}
	}

	return text, true, nil
}

func (c *Client) fullTextOf(ctx context.Context, key string) (string, bool, error) {
	var payload struct {
		Content string `json:"content"`
	}

	err := c.getJSON(ctx, "/items/"+key+"/fulltext", nil, &payload)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", false, nil
		}

		return "", false, fmt.Errorf("failed to fetch full text of %s: %w", key, err)
	}

	return payload.Content, payload.Content != "", nil
}

// GetAnnotations returns reader annotations on the item and on its
// attachment children.
func (c *Client) GetAnnotations(ctx context.Context, key string) ([]models.Annotation, error) {
	annotations, err := c.annotationsOf(ctx, key)
	if err != nil {
		return nil, err
	}

	children, err := c.GetItemChildren(ctx, key)
	if err != nil {
		return nil, err
	}

	for _, child := range children {
		if child.ItemType != "attachment" {
			continue
		}

		childAnnotations, err := c.annotationsOf(ctx, child.Key)
		if err != nil {
			return nil, err
		}

		annotations = append(annotations, childAnnotations...)
	}

	return annotations, nil
}

func (c *Client) annotationsOf(ctx context.Context, key string) ([]models.Annotation, error) {
	var children []entry

	query := url.Values{"itemType": {"annotation"}}
	if err := c.getJSON(ctx, "/items/"+key+"/children", query, &children); err != nil {
		return nil, fmt.Errorf("failed to fetch annotations of %s: %w", key, err)
	}

	annotations := make([]models.Annotation, 0, len(children))

	for _, child := range children {
		annotations = append(annotations, models.Annotation{
			Key:     child.Key,
			Type:    child.Data.AnnotationType,
			Text:    child.Data.AnnotationText,
			Comment: child.Data.AnnotationComment,
			Page:    child.Data.AnnotationPageLabel,
		})
	}

	return annotations, nil
}

// HasExistingOutput reports whether the item already carries an analysis
// note written by this engine, recognized by its marker tag.
func (c *Client) HasExistingOutput(ctx context.Context, key string) (bool, error) {
	var children []entry

	query := url.Values{"itemType": {"note"}, "tag": {OutputTag}}
	if err := c.getJSON(ctx, "/items/"+key+"/children", query, &children); err != nil {
		return false, fmt.Errorf("failed to check existing output of %s: %w", key, err)
	}

	return len(children) > 0, nil
}

// CreateOutputRecord writes analysis content as a tagged child note and
// returns the new note's key.
func (c *Client) CreateOutputRecord(ctx context.Context, key, content string) (string, error) {
	note := []map[string]any{{
		"itemType":   "note",
		"parentItem": key,
		"note":       noteHTML(content),
		"tags":       []map[string]string{{"tag": OutputTag}},
	}}

	body, err := json.Marshal(note)
	if err != nil {
		return "", fmt.Errorf("failed to marshal output note: %w", err)
	}

	var response struct {
		Successful map[string]struct {
			Key string `json:"key"`
		} `json:"successful"`
		Failed map[string]struct {
			Message string `json:"message"`
		} `json:"failed"`
	}

	if err := c.postJSON(ctx, "/items", body, &response); err != nil {
		return "", fmt.Errorf("failed to create output note for %s: %w", key, err)
	}

	if created, ok := response.Successful["0"]; ok {
		return created.Key, nil
	}

	if failure, ok := response.Failed["0"]; ok {
		return "", fmt.Errorf("library rejected output note for %s: %s", key, failure.Message)
	}

	return "", fmt.Errorf("library returned no result for output note of %s", key)
}

// ListCollectionItems resolves a collection by key or name and returns its
// top-level item keys.
func (c *Client) ListCollectionItems(ctx context.Context, identifier string) ([]string, error) {
	collectionKey := identifier

	if !collectionKeyPattern.MatchString(identifier) {
		resolved, err := c.findCollectionByName(ctx, identifier)
		if err != nil {
			return nil, err
		}

		collectionKey = resolved
	}

	return c.getKeys(ctx, "/collections/"+collectionKey+"/items/top", nil)
}

// ListRecentItems returns the keys of the most recently added top-level
// items, newest first.
func (c *Client) ListRecentItems(ctx context.Context, limit int) ([]string, error) {
	query := url.Values{
		"sort":      {"dateAdded"},
		"direction": {"desc"},
		"limit":     {strconv.Itoa(limit)},
	}

	return c.getKeys(ctx, "/items/top", query)
}

func (c *Client) findCollectionByName(ctx context.Context, name string) (string, error) {
	var collections []struct {
		Key  string `json:"key"`
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}

	if err := c.getJSON(ctx, "/collections", nil, &collections); err != nil {
		return "", fmt.Errorf("failed to list collections: %w", err)
	}

	for _, collection := range collections {
		if strings.EqualFold(collection.Data.Name, name) {
			return collection.Key, nil
		}
	}

	return "", fmt.Errorf("collection %q not found", name)
}

func (c *Client) getKeys(ctx context.Context, path string, query url.Values) ([]string, error) {
	if query == nil {
		query = url.Values{}
	}

	query.Set("format", "keys")

	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0)

	for _, line := range strings.Split(string(body), "\n") {
		if key := strings.TrimSpace(line); key != "" {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte, out any) error {
	body, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	endpoint := c.baseURL + c.libraryPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if c.apiKey != "" {
		request.Header.Set("Zotero-API-Key", c.apiKey)
	}

	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &apiError{StatusCode: response.StatusCode, Path: path}
	}

	return body, nil
}

// apiError reports a non-2xx library response.
type apiError struct {
	StatusCode int
	Path       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("library returned HTTP %d for %s", e.StatusCode, e.Path)
}

func normalizeItem(item *entry) models.ItemMetadata {
	key := item.Key
	if key == "" {
		key = item.Data.Key
	}

	creators := make([]string, 0, len(item.Data.Creators))

	for _, creator := range item.Data.Creators {
		name := creator.Name
		if name == "" {
			name = strings.TrimSpace(creator.FirstName + " " + creator.LastName)
		}

		if name != "" {
			creators = append(creators, name)
		}
	}

	tags := make([]string, 0, len(item.Data.Tags))
	for _, tag := range item.Data.Tags {
		tags = append(tags, tag.Tag)
	}

	return models.ItemMetadata{
		Key:      key,
		Title:    item.Data.Title,
		ItemType: item.Data.ItemType,
		Creators: strings.Join(creators, ", "),
		Date:     item.Data.Date,
		Abstract: item.Data.AbstractNote,
		URL:      item.Data.URL,
		DOI:      item.Data.DOI,
		Tags:     tags,
	}
}

func looksLikeHTML(content string) bool {
	trimmed := strings.TrimSpace(content)

	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, "</")
}

func noteHTML(content string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(content)
	paragraphs := strings.Split(escaped, "\n\n")

	var builder strings.Builder
	for _, paragraph := range paragraphs {
		builder.WriteString("<p>")
		builder.WriteString(strings.ReplaceAll(paragraph, "\n", "<br/>"))
		builder.WriteString("</p>")
	}

	return builder.String()
}
