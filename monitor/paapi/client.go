package paapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"mandi-monitor/monitor/types"
	metrics "mandi-monitor/pkg/telemetry"
)

const (
	defaultTimeout = 30 * time.Second
	searchPath     = "/paapi5/searchitems"
	getItemsPath   = "/paapi5/getitems"

	// MaxItemsPerPage is the vendor's hard cap on search page size. Larger
	// requests are clamped, never forwarded.
	MaxItemsPerPage = 10
)

// Governor is the admission gate every remote call passes through.
type Governor interface {
	Acquire(ctx context.Context) error
	Throttled()
}

// Client is a typed wrapper around the vendor's SearchItems and GetItems
// operations.
type Client struct {
	httpClient  *http.Client
	governor    Governor
	logger      zerolog.Logger
	host        string
	region      string
	accessKey   string
	secretKey   string
	partnerTag  string
	marketplace string
}

func NewClient(
	logger zerolog.Logger,
	gov Governor,
	host, region, accessKey, secretKey, partnerTag, marketplace string,
) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		governor:    gov,
		logger:      logger.With().Str("module", "paapi").Logger(),
		host:        host,
		region:      region,
		accessKey:   accessKey,
		secretKey:   secretKey,
		partnerTag:  partnerTag,
		marketplace: marketplace,
	}
}

// SearchRequest describes one page of a keyword search.
//
// There is deliberately no max-price field: the vendor silently discards
// MaxPrice whenever MinPrice is also present, so budget ceilings are always
// enforced client-side by the selector's budget filter.
type SearchRequest struct {
	Keywords    string
	SearchIndex string
	Page        int
	ItemCount   int
	MinPrice    types.Paise
	Resources   ResourceSet
}

// SearchPage is one page of search results in vendor-relevance order.
type SearchPage struct {
	Items      []types.Product
	TotalPages int
}

type searchItemsBody struct {
	Keywords    string   `json:"Keywords"`
	SearchIndex string   `json:"SearchIndex,omitempty"`
	ItemPage    int      `json:"ItemPage"`
	ItemCount   int      `json:"ItemCount"`
	MinPrice    int64    `json:"MinPrice,omitempty"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type getItemsBody struct {
	ItemIds     []string `json:"ItemIds"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type apiResponse struct {
	SearchResult *struct {
		Items          []apiItem `json:"Items"`
		TotalPageCount int       `json:"TotalResultPages"`
	} `json:"SearchResult"`
	ItemsResult *struct {
		Items []apiItem `json:"Items"`
	} `json:"ItemsResult"`
	Errors []apiError `json:"Errors"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type apiItem struct {
	ASIN     string `json:"ASIN"`
	ItemInfo struct {
		Title struct {
			DisplayValue string `json:"DisplayValue"`
		} `json:"Title"`
		ByLineInfo struct {
			Brand struct {
				DisplayValue string `json:"DisplayValue"`
			} `json:"Brand"`
		} `json:"ByLineInfo"`
		Features struct {
			DisplayValues []string `json:"DisplayValues"`
		} `json:"Features"`
		TechnicalInfo struct {
			Formats struct {
				DisplayValues []string `json:"DisplayValues"`
			} `json:"Formats"`
		} `json:"TechnicalInfo"`
	} `json:"ItemInfo"`
	Images struct {
		Primary struct {
			Large struct {
				URL string `json:"URL"`
			} `json:"Large"`
		} `json:"Primary"`
	} `json:"Images"`
	Offers struct {
		Listings []struct {
			Price struct {
				Amount float64 `json:"Amount"`
			} `json:"Price"`
			SavingBasis struct {
				Amount float64 `json:"Amount"`
			} `json:"SavingBasis"`
		} `json:"Listings"`
	} `json:"Offers"`
	CustomerReviews struct {
		Count int `json:"Count"`
	} `json:"CustomerReviews"`
}

func (it apiItem) toProduct() types.Product {
	p := types.Product{
		ASIN:        it.ASIN,
		Title:       it.ItemInfo.Title.DisplayValue,
		Brand:       it.ItemInfo.ByLineInfo.Brand.DisplayValue,
		ImageURL:    it.Images.Primary.Large.URL,
		Features:    it.ItemInfo.Features.DisplayValues,
		ReviewCount: it.CustomerReviews.Count,
	}
	if len(it.ItemInfo.TechnicalInfo.Formats.DisplayValues) > 0 {
		p.TechInfo = map[string]string{
			"formats": strings.Join(it.ItemInfo.TechnicalInfo.Formats.DisplayValues, "; "),
		}
	}
	if len(it.Offers.Listings) > 0 {
		listing := it.Offers.Listings[0]
		p.Price = rupeeAmountToPaise(listing.Price.Amount)
		p.ListPrice = rupeeAmountToPaise(listing.SavingBasis.Amount)
	}
	return p
}

// rupeeAmountToPaise converts the vendor's fractional-rupee amount field.
func rupeeAmountToPaise(amount float64) types.Paise {
	if amount <= 0 {
		return 0
	}
	return types.Paise(math.Round(amount * 100))
}

// SearchItems fetches one page of search results. ItemCount above the
// vendor's cap is clamped to MaxItemsPerPage.
func (c *Client) SearchItems(ctx context.Context, req SearchRequest) (SearchPage, error) {
	count := req.ItemCount
	if count <= 0 || count > MaxItemsPerPage {
		count = MaxItemsPerPage
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	body := searchItemsBody{
		Keywords:    req.Keywords,
		SearchIndex: req.SearchIndex,
		ItemPage:    page,
		ItemCount:   count,
		PartnerTag:  c.partnerTag,
		PartnerType: "Associates",
		Marketplace: c.marketplace,
		Resources:   req.Resources.Resources(),
	}
	if req.MinPrice > 0 {
		body.MinPrice = int64(req.MinPrice)
	}

	resp, err := c.call(ctx, searchPath, "SearchItems", body)
	if err != nil {
		return SearchPage{}, err
	}
	out := SearchPage{}
	if resp.SearchResult != nil {
		out.TotalPages = resp.SearchResult.TotalPageCount
		for _, it := range resp.SearchResult.Items {
			out.Items = append(out.Items, it.toProduct())
		}
	}
	return out, nil
}

// GetItem fetches detail for a single ASIN using the given resource bundle.
func (c *Client) GetItem(ctx context.Context, asin string, res ResourceSet) (types.Product, error) {
	body := getItemsBody{
		ItemIds:     []string{asin},
		PartnerTag:  c.partnerTag,
		PartnerType: "Associates",
		Marketplace: c.marketplace,
		Resources:   res.Resources(),
	}
	resp, err := c.call(ctx, getItemsPath, "GetItems", body)
	if err != nil {
		return types.Product{}, err
	}
	if resp.ItemsResult == nil || len(resp.ItemsResult.Items) == 0 {
		return types.Product{}, fmt.Errorf("%w: %s", ErrItemNotAccessible, asin)
	}
	return resp.ItemsResult.Items[0].toProduct(), nil
}

// call runs one governed, signed, retried request against the vendor.
// Transient network failures and 5xx responses are retried up to three times
// with exponential backoff (1s, 2s, 4s ± jitter); the typed taxonomy errors
// are surfaced immediately. Every attempt, retries included, passes the
// governor before its request goes on the wire.
func (c *Client) call(ctx context.Context, path, operation string, body interface{}) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.25
	policy.MaxElapsedTime = 0

	var out *apiResponse
	op := func() error {
		if err := c.governor.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.doRequest(ctx, path, operation, payload)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, path, operation string, payload []byte) (*apiResponse, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+c.host+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Amz-Target", "com.amazon.paapi5.v1.ProductAdvertisingAPIv1."+operation)
	c.sign(req, payload)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncrCounter(1, "paapi", "failure", "network")
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.governor.Throttled()
		metrics.IncrCounter(1, "paapi", "failure", "throttled")
		return nil, backoff.Permanent(ErrThrottled)
	case resp.StatusCode == http.StatusServiceUnavailable:
		metrics.IncrCounter(1, "paapi", "failure", "quota")
		return nil, backoff.Permanent(ErrQuotaExhausted)
	case resp.StatusCode >= 500:
		metrics.IncrCounter(1, "paapi", "failure", "server")
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		var decoded apiResponse
		if err := json.Unmarshal(raw, &decoded); err == nil {
			if typed := taxonomyError(decoded.Errors); typed != nil {
				return nil, backoff.Permanent(typed)
			}
		}
		return nil, backoff.Permanent(fmt.Errorf("unexpected status: %s", resp.Status))
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode %s response: %w", operation, err))
	}
	if typed := taxonomyError(decoded.Errors); typed != nil {
		return nil, backoff.Permanent(typed)
	}

	metrics.MeasureSince([]string{"paapi", "request"}, start)
	c.logger.Debug().
		Str("operation", operation).
		Dur("elapsed", time.Since(start)).
		Msg("vendor request complete")
	return &decoded, nil
}

func taxonomyError(errs []apiError) error {
	for _, e := range errs {
		switch e.Code {
		case "TooManyRequests":
			return ErrThrottled
		case "RequestQuotaExceeded":
			return ErrQuotaExhausted
		case "ItemNotAccessible", "InvalidParameterValue":
			return fmt.Errorf("%w: %s", ErrItemNotAccessible, e.Message)
		}
	}
	return nil
}

// sign attaches a V4-style signature. The vendor validates the credential
// scope and the HMAC chain over the payload hash.
func (c *Client) sign(req *http.Request, payload []byte) {
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	payloadHash := sha256.Sum256(payload)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", hex.EncodeToString(payloadHash[:]))
	req.Host = c.host

	scope := strings.Join([]string{dateStamp, c.region, "ProductAdvertisingAPI", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(payloadHash[:]),
	}, "\n")

	key := hmacSHA256([]byte("AWS4"+c.secretKey), dateStamp)
	key = hmacSHA256(key, c.region)
	key = hmacSHA256(key, "ProductAdvertisingAPI")
	key = hmacSHA256(key, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=content-type;host;x-amz-date;x-amz-target, Signature=%s",
		c.accessKey, scope, signature,
	))
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
