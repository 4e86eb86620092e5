// Package estimate scrapes a property value estimate and nearby comparables
// from the property's listing page.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrScrape is returned when the listing page cannot be fetched or parsed.
var ErrScrape = errors.New("estimate scrape failed")

// CacheTTL is how long a scraped estimate is reused.
const CacheTTL = 6 * time.Hour

const listingBase = "https://www.trulia.com/p"

var (
	pricePattern = regexp.MustCompile(`>(\$[\d,]+)<`)
	compPattern  = regexp.MustCompile(`>(\$[\d,]*\d{3},\d{3})<`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// Address identifies the listing page of a property.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
	ID     string // listing ID
}

// ParseAddress splits "City, ST 12345" into its parts. Multi-word cities are
// joined with dashes.
func ParseAddress(street, cityStateZip, id string) (Address, error) {
	fields := strings.Fields(strings.ReplaceAll(cityStateZip, ",", " "))
	if len(fields) < 3 {
		return Address{}, fmt.Errorf("invalid city/state/zip %q", cityStateZip)
	}
	n := len(fields)
	return Address{
		Street: strings.TrimSpace(street),
		City:   strings.Join(fields[:n-2], "-"),
		State:  fields[n-2],
		Zip:    fields[n-1],
		ID:     id,
	}, nil
}

// Key identifies the address in the cache.
func (a Address) Key() string {
	return strings.Join([]string{a.Street, a.City, a.State, a.Zip}, "|")
}

// URL returns the listing page address.
func (a Address) URL() string {
	street := strings.Join(strings.Fields(a.Street), "-")
	return fmt.Sprintf("%s/%s/%s/%s-%s-%s-%s--%s",
		listingBase, a.State, a.City,
		street, a.City, a.State, a.Zip, a.ID)
}

// Estimate is the scraped value summary of a property.
type Estimate struct {
	Link         string    `json:"link"`
	Price        int64     `json:"price"`
	Comparable   int64     `json:"comparable"` // average of comparable prices, 0 when none
	Comparables  int       `json:"comparables"`
	Appreciation int64     `json:"appreciation"` // price minus purchase price
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher returns the raw text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Parse extracts the estimate from a listing page. The first dollar token is
// the estimate; every six-figure-or-more token with a different value is a
// comparable.
func Parse(page string, purchasePrice int64) (Estimate, error) {
	m := pricePattern.FindStringSubmatch(page)
	if m == nil {
		return Estimate{}, fmt.Errorf("%w: no price on page", ErrScrape)
	}
	price, err := dollars(m[1])
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrScrape, err)
	}

	var sum int64
	var count int
	for _, cm := range compPattern.FindAllStringSubmatch(page, -1) {
		v, err := dollars(cm[1])
		if err != nil || v == price {
			continue
		}
		sum += v
		count++
	}

	est := Estimate{
		Price:        price,
		Comparables:  count,
		Appreciation: price - purchasePrice,
	}
	if count > 0 {
		est.Comparable = int64(math.Round(float64(sum) / float64(count)))
	}
	return est, nil
}

func dollars(token string) (int64, error) {
	return strconv.ParseInt(nonDigits.ReplaceAllString(token, ""), 10, 64)
}

// Estimator fetches estimates, reusing cached results while they are fresh.
type Estimator struct {
	fetcher       Fetcher
	cache         *Cache
	purchasePrice int64
	now           func() time.Time
	logger        *slog.Logger
}

// NewEstimator creates an Estimator. cache may be nil.
func NewEstimator(fetcher Fetcher, cache *Cache, purchasePrice int64, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		fetcher:       fetcher,
		cache:         cache,
		purchasePrice: purchasePrice,
		now:           time.Now,
		logger:        logger.With("component", "estimate"),
	}
}

// Estimate returns the estimate for addr. Errors wrap ErrScrape unless they
// come from the cache.
func (e *Estimator) Estimate(ctx context.Context, addr Address) (Estimate, error) {
	now := e.now()

	if e.cache != nil {
		cached, ok, err := e.cache.Get(addr.Key(), now)
		if err != nil {
			e.logger.Warn("Failed to read estimate cache", "error", err)
		} else if ok {
			e.logger.Debug("Using cached estimate", "fetched_at", cached.FetchedAt)
			return cached, nil
		}
	}

	url := addr.URL()
	page, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %v", ErrScrape, err)
	}

	est, err := Parse(page, e.purchasePrice)
	if err != nil {
		return Estimate{}, err
	}
	est.Link = url
	est.FetchedAt = now

	if e.cache != nil {
		if err := e.cache.Put(addr.Key(), est); err != nil {
			e.logger.Warn("Failed to write estimate cache", "error", err)
		}
	}
	return est, nil
}

// FormatThousands renders n with comma separators.
func FormatThousands(n int64) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}
