package source

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/i474232898/weather-radar/internal/common"
	"github.com/i474232898/weather-radar/internal/radar"
)

// Defaults for the MRMS Reflectivity At Lowest Altitude product.
const (
	DefaultBaseURL     = "https://mrms.ncep.noaa.gov/data"
	DefaultListingPath = "/2D/ReflectivityAtLowestAltitude/"
	DefaultProduct     = "MRMS_ReflectivityAtLowestAltitude"
	DefaultSuffix      = ".grib2.gz"

	maxListingBytes = 8 << 20
)

// ListingOptions describes where the directory index lives and which files
// in it belong to the product.
type ListingOptions struct {
	BaseURL     string
	ListingPath string
	Product     string
	Suffix      string
	Timeout     time.Duration
}

// ListingResolver turns an HTML directory index into the URL of the newest file.
type ListingResolver struct {
	client *Client
	opts   ListingOptions

	latestPattern *regexp.Regexp
	filePatterns  []*regexp.Regexp
}

// NewListingResolver creates a resolver; empty options fall back to the MRMS defaults.
func NewListingResolver(client *Client, opts ListingOptions) *ListingResolver {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ListingPath == "" {
		opts.ListingPath = DefaultListingPath
	}
	if opts.Product == "" {
		opts.Product = DefaultProduct
	}
	if opts.Suffix == "" {
		opts.Suffix = DefaultSuffix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	suffix := regexp.QuoteMeta(opts.Suffix)
	latest := regexp.QuoteMeta(opts.Product + ".latest" + opts.Suffix)

	return &ListingResolver{
		client:        client,
		opts:          opts,
		latestPattern: regexp.MustCompile(`(?i)href="([^"]*` + latest + `)"`),
		filePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)href="([^"]+` + suffix + `)"`),
			regexp.MustCompile(`(?i)href='([^']+` + suffix + `)'`),
		},
	}
}

// ListingURL is the directory index the resolver reads.
func (r *ListingResolver) ListingURL() string {
	u := r.opts.BaseURL + r.opts.ListingPath
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// ResolveLatestURL returns the URL of the newest product file. A published
// "<product>.latest" alias wins; otherwise the lexicographically greatest
// file name is taken.
//
// The fallback assumes file names embed fixed-width, zero-padded timestamps
// (as MRMS does with YYYYMMDD-HHMMSS). Names that are not zero-padded sort
// wrongly across month and year boundaries.
func (r *ListingResolver) ResolveLatestURL(ctx context.Context) (string, error) {
	listingURL := r.ListingURL()

	body, _, err := r.client.Get(ctx, listingURL, r.opts.Timeout, maxListingBytes)
	if err != nil {
		return "", &radar.ResolutionError{ListingURL: listingURL, Reason: "listing request failed", Err: err}
	}
	html := string(body)

	if m := r.latestPattern.FindStringSubmatch(html); m != nil {
		return r.absolute(strings.TrimSpace(m[1])), nil
	}

	files := make(map[string]struct{})
	for _, re := range r.filePatterns {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" || common.HasAny(name, "Parent") {
				continue
			}
			files[name] = struct{}{}
		}
	}
	if len(files) == 0 {
		return "", &radar.ResolutionError{
			ListingURL: listingURL,
			Reason:     fmt.Sprintf("no %s files found in directory listing", r.opts.Suffix),
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	return r.absolute(names[0]), nil
}

func (r *ListingResolver) absolute(name string) string {
	switch {
	case strings.HasPrefix(strings.ToLower(name), "http://"), strings.HasPrefix(strings.ToLower(name), "https://"):
		return name
	case strings.HasPrefix(name, "/"):
		return r.opts.BaseURL + name
	default:
		return r.ListingURL() + strings.TrimPrefix(name, "./")
	}
}
