package health24

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/medassist/medsync/internal/auth"
	"github.com/medassist/medsync/internal/model"
)

// API paths, relative to the configured base URL.
const (
	pathPatients      = "/api/v2/patients"
	pathPatientByID   = "/api/v2/patients/{patient_id}"
	pathDocumentTypes = "/api/v2/classifiers/document-types"

	pathAddressTypes  = "/api/v2/classifications/address/address_types"
	pathCountries     = "/api/v2/classifications/address/countries"
	pathRegions       = "/api/v2/classifications/address/regions"
	pathDistricts     = "/api/v2/classifications/address/districts"
	pathSettlements   = "/api/v2/classifications/address/settlements"
	pathCityDistricts = "/api/v2/classifications/address/city_districts"
	pathStreetTypes   = "/api/v2/classifications/address/street_types"
)

// StatusError reports a non-2xx response from the API, distinguishable
// from transport-level failures via [errors.As].
type StatusError struct {
	Code int
	Path string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("health24 returned status %d for %s", e.Code, e.Path)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client performs paginated HTTP reads against the health24 API. It is
// stateless per call — all persistence belongs to the local store.
type Client struct {
	http   *resty.Client
	tokens auth.TokenProvider
	log    *slog.Logger
}

// NewClient creates a Client for the given base URL. Every request carries
// the bearer credential supplied by tokens and is bounded by timeout.
func NewClient(baseURL string, tokens auth.TokenProvider, timeout time.Duration, logger *slog.Logger) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: hc, tokens: tokens, log: logger}
}

// get performs one authenticated GET with transport-level retry and returns
// the raw body. Non-2xx responses become a [*StatusError] and are not
// retried — a 404 stays a 404 no matter how often it is asked.
func (c *Client) get(ctx context.Context, path string, pathParams, queryParams map[string]string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining credential: %w", err)
	}

	var resp *resty.Response
	err = Retry(ctx, defaultMaxAttempts, func() error {
		r, callErr := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetPathParams(pathParams).
			SetQueryParams(queryParams).
			Get(path)
		if callErr != nil {
			return fmt.Errorf("GET %s: %w", path, callErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode(), Path: resp.Request.URL}
	}
	return resp.Body(), nil
}

// getJSON performs get and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, pathParams, queryParams map[string]string, out any) error {
	body, err := c.get(ctx, path, pathParams, queryParams)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

// FetchPatient retrieves the full document for one patient. The raw body is
// attached to the returned document for verbatim snapshot storage.
func (c *Client) FetchPatient(ctx context.Context, health24ID int64) (*model.PatientDocument, error) {
	body, err := c.get(ctx, pathPatientByID,
		map[string]string{"patient_id": strconv.FormatInt(health24ID, 10)}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching patient %d: %w", health24ID, err)
	}

	var doc model.PatientDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding patient %d: %w", health24ID, err)
	}
	doc.Raw = body

	c.log.Debug("patient fetched", "health24_id", health24ID)
	return &doc, nil
}

// FetchPatientsPage retrieves one page of the roster for the given
// clinician. The second return value reports whether more pages follow.
func (c *Client) FetchPatientsPage(ctx context.Context, employeeID string, page, pageSize int) ([]model.PatientDocument, bool, error) {
	var out struct {
		Patients    []model.PatientDocument `json:"patients"`
		HasNextPage bool                    `json:"has_next_page"`
	}
	err := c.getJSON(ctx, pathPatients, nil, map[string]string{
		"declaration_employee_id": employeeID,
		"page":                    strconv.Itoa(page),
		"page_size":               strconv.Itoa(pageSize),
	}, &out)
	if err != nil {
		return nil, false, fmt.Errorf("fetching patients page %d for employee %s: %w", page, employeeID, err)
	}
	return out.Patients, out.HasNextPage, nil
}

// itemsEnvelope is the common {"items": [...]} wrapper of classification
// endpoints.
type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// fetchItems retrieves a classification list endpoint.
func fetchItems[T any](ctx context.Context, c *Client, path string, queryParams map[string]string) ([]T, error) {
	var out itemsEnvelope[T]
	if err := c.getJSON(ctx, path, nil, queryParams, &out); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	return out.Items, nil
}

// FetchCountries retrieves the countries classifier.
func (c *Client) FetchCountries(ctx context.Context) ([]model.Classifier, error) {
	return fetchItems[model.Classifier](ctx, c, pathCountries, nil)
}

// FetchAddressTypes retrieves the address types classifier.
func (c *Client) FetchAddressTypes(ctx context.Context) ([]model.Classifier, error) {
	return fetchItems[model.Classifier](ctx, c, pathAddressTypes, nil)
}

// FetchStreetTypes retrieves the street types classifier.
func (c *Client) FetchStreetTypes(ctx context.Context) ([]model.Classifier, error) {
	return fetchItems[model.Classifier](ctx, c, pathStreetTypes, nil)
}

// FetchDocumentTypes retrieves the document types classifier.
func (c *Client) FetchDocumentTypes(ctx context.Context) ([]model.Classifier, error) {
	return fetchItems[model.Classifier](ctx, c, pathDocumentTypes, nil)
}

// FetchRegions retrieves all regions.
func (c *Client) FetchRegions(ctx context.Context) ([]model.Region, error) {
	return fetchItems[model.Region](ctx, c, pathRegions, nil)
}

// FetchDistricts retrieves all districts.
func (c *Client) FetchDistricts(ctx context.Context) ([]model.District, error) {
	return fetchItems[model.District](ctx, c, pathDistricts, nil)
}

// FetchCityDistricts retrieves the city districts of one settlement.
func (c *Client) FetchCityDistricts(ctx context.Context, settlementID int64) ([]model.CityDistrict, error) {
	return fetchItems[model.CityDistrict](ctx, c, pathCityDistricts, map[string]string{
		"settlement_id": strconv.FormatInt(settlementID, 10),
	})
}

// FetchSettlementsPage retrieves one page of a region's settlements in the
// full response view. The second return value is the region's total count.
func (c *Client) FetchSettlementsPage(ctx context.Context, regionID int64, page, pageSize int) ([]model.Settlement, int, error) {
	var out struct {
		Items []model.Settlement `json:"items"`
		Total int                `json:"total"`
	}
	err := c.getJSON(ctx, pathSettlements, nil, map[string]string{
		"region_id":     strconv.FormatInt(regionID, 10),
		"response_view": "full",
		"page":          strconv.Itoa(page),
		"page_size":     strconv.Itoa(pageSize),
	}, &out)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching settlements page %d for region %d: %w", page, regionID, err)
	}
	return out.Items, out.Total, nil
}

// settlementsPageSize is the page size for the settlements pagination loop.
const settlementsPageSize = 100

// FetchAllSettlements pages through every settlement of one region. The
// loop stops on an empty page or once the reported total is reached.
func (c *Client) FetchAllSettlements(ctx context.Context, regionID int64) ([]model.Settlement, error) {
	var all []model.Settlement
	for page := 1; ; page++ {
		items, total, err := c.FetchSettlementsPage(ctx, regionID, page, settlementsPageSize)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if len(all) >= total {
			break
		}
	}
	c.log.Debug("settlements fetched", "region_id", regionID, "count", len(all))
	return all, nil
}
