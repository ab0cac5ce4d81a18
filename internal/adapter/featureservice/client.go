// Package featureservice is a client for the ArcGIS feature service that
// publishes the wastewater layer.
package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/couchcryptid/wastewater-etl/internal/observability"
	"github.com/go-resty/resty/v2"
)

// Client talks to one feature-service layer and its CSV export.
// It implements pipeline.MetadataSource, pipeline.PageSource and pipeline.ExportSource.
type Client struct {
	http      *resty.Client
	layerURL  string
	exportURL string
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewClient creates a client for the layer at layerURL (".../FeatureServer/0").
func NewClient(layerURL, exportURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		http:      resty.New().SetTimeout(timeout),
		layerURL:  layerURL,
		exportURL: exportURL,
		metrics:   metrics,
		logger:    logger,
	}
}

// LastEditDate returns the calendar date (UTC) of the layer's last data edit.
func (c *Client) LastEditDate(ctx context.Context) (time.Time, error) {
	body, err := c.get(ctx, "metadata", c.layerURL, map[string]string{"f": "pjson"})
	if err != nil {
		return time.Time{}, err
	}

	var resp metadataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("%w: decode metadata: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.Error != nil {
		return time.Time{}, fmt.Errorf("%w: metadata: %s", domain.ErrUpstreamUnavailable, resp.Error)
	}
	if resp.EditingInfo == nil || resp.EditingInfo.DataLastEditDate == nil {
		return time.Time{}, fmt.Errorf("%w: editingInfo.dataLastEditDate missing from metadata", domain.ErrUpstreamSchema)
	}

	ms := *resp.EditingInfo.DataLastEditDate
	edited := time.UnixMilli(ms).UTC()
	date := time.Date(edited.Year(), edited.Month(), edited.Day(), 0, 0, 0, 0, time.UTC)
	c.logger.Debug("upstream last edit", "date", domain.ISODate(date), "epoch_ms", ms)
	return date, nil
}

// QueryPage requests count features starting at offset.
func (c *Client) QueryPage(ctx context.Context, offset, count int) (domain.FeaturePage, error) {
	params := map[string]string{
		"where":             "1=1",
		"outFields":         "*",
		"outSR":             "4326",
		"f":                 "json",
		"resultOffset":      strconv.Itoa(offset),
		"resultRecordCount": strconv.Itoa(count),
	}
	body, err := c.get(ctx, "query", c.layerURL+"/query", params)
	if err != nil {
		return domain.FeaturePage{}, fmt.Errorf("offset %d: %w", offset, err)
	}
	page, err := decodePage(body)
	if err != nil {
		return domain.FeaturePage{}, fmt.Errorf("offset %d: %w", offset, err)
	}
	return page, nil
}

// ExportCSV downloads the full layer as CSV.
func (c *Client) ExportCSV(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "export", c.exportURL, nil)
}

func (c *Client) get(ctx context.Context, endpoint, url string, params map[string]string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(url)
	c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %s request: %v", domain.ErrUpstreamUnavailable, endpoint, err)
	}
	if resp.IsError() {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%w: %s request: status %d: %s", domain.ErrUpstreamUnavailable, endpoint, resp.StatusCode(), truncate(resp.Body(), 200))
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
	return resp.Body(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
