package audible

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/fableseek/fableseek-server/internal/errors"
)

var asinPattern = regexp.MustCompile(`^[0-9A-Z]{10}$`)

// ValidASIN reports whether the string looks like an Audible ASIN.
func ValidASIN(asin string) bool {
	return asinPattern.MatchString(asin)
}

// Search searches the Audible catalog.
func (c *Client) Search(ctx context.Context, region Region, params SearchParams) ([]SearchResult, error) {
	query := url.Values{}
	if params.Keywords != "" {
		query.Set("keywords", params.Keywords)
	}
	if params.Title != "" {
		query.Set("title", params.Title)
	}
	if params.Author != "" {
		query.Set("author", params.Author)
	}
	if params.Narrator != "" {
		query.Set("narrator", params.Narrator)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultNumResults
	}
	if limit > maxNumResults {
		limit = maxNumResults
	}
	query.Set("num_results", strconv.Itoa(limit))
	query.Set("response_groups", responseGroups())
	query.Set("image_sizes", "500,1024")
	query.Set("products_sort_by", "Relevance")

	body, err := c.doRequest(ctx, region, "/1.0/catalog/products", query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Products []rawProduct `json:"products"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Products))
	for i := range resp.Products {
		results = append(results, resp.Products[i].toResult())
	}
	return results, nil
}

// GetBook fetches one catalog entry by ASIN, used to pre-fill a request.
func (c *Client) GetBook(ctx context.Context, region Region, asin string) (*SearchResult, error) {
	if !ValidASIN(asin) {
		return nil, errors.Validationf("invalid ASIN %q", asin)
	}

	query := url.Values{}
	query.Set("response_groups", responseGroups())
	query.Set("image_sizes", "500,1024")

	body, err := c.doRequest(ctx, region, "/1.0/catalog/products/"+asin, query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Product rawProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse product response: %w", err)
	}
	if resp.Product.ASIN == "" {
		return nil, errors.NotFoundf("no catalog entry for ASIN %s", asin)
	}

	result := resp.Product.toResult()
	return &result, nil
}
