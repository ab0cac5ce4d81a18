package featureservice

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
)

// apiError is the error object ArcGIS embeds in otherwise successful (HTTP 200) responses.
type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *apiError) String() string {
	msg := fmt.Sprintf("code %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

type metadataResponse struct {
	EditingInfo *struct {
		DataLastEditDate *int64 `json:"dataLastEditDate"`
	} `json:"editingInfo"`
	Error *apiError `json:"error"`
}

func decodePage(body []byte) (domain.FeaturePage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return domain.FeaturePage{}, fmt.Errorf("%w: decode query response: %v", domain.ErrUpstreamUnavailable, err)
	}

	if raw, ok := top["error"]; ok {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err != nil {
			return domain.FeaturePage{}, fmt.Errorf("%w: query: error %s", domain.ErrUpstreamUnavailable, truncate(raw, 200))
		}
		return domain.FeaturePage{}, fmt.Errorf("%w: query: %s", domain.ErrUpstreamUnavailable, &apiErr)
	}

	raw, ok := top["features"]
	if !ok {
		return domain.FeaturePage{}, fmt.Errorf("%w: query response has no features array", domain.ErrUpstreamUnavailable)
	}
	var page domain.FeaturePage
	if err := json.Unmarshal(raw, &page.Features); err != nil {
		return domain.FeaturePage{}, fmt.Errorf("%w: decode features: %v", domain.ErrUpstreamUnavailable, err)
	}
	delete(top, "features")

	if raw, ok := top["exceededTransferLimit"]; ok {
		var exceeded bool
		if err := json.Unmarshal(raw, &exceeded); err == nil {
			page.ExceededTransferLimit = &exceeded
		}
		delete(top, "exceededTransferLimit")
	}
	page.Fields = top
	return page, nil
}
