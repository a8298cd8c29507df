package fetch

import (
	"net/url"
	"strings"
)

// Platform is a known applicant tracking system hosting job boards.
type Platform string

// Known platforms
const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformUnknown    Platform = "unknown"
)

// DetectPlatform identifies the job board platform from a URL.
func DetectPlatform(rawURL string) Platform {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(parsed.Host)
	switch {
	case strings.Contains(host, "greenhouse.io"):
		return PlatformGreenhouse
	case strings.Contains(host, "lever.co"):
		return PlatformLever
	case strings.Contains(host, "workday.com"), strings.Contains(host, "myworkdayjobs.com"):
		return PlatformWorkday
	default:
		return PlatformUnknown
	}
}

// ListingSelectors locate postings on a board's listing page. Item selects one
// element per posting; the other selectors are relative to it. An empty Link means
// the Title element is the link.
type ListingSelectors struct {
	Item        string `json:"item"`
	Title       string `json:"title"`
	Link        string `json:"link,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// Valid reports whether the selectors can find postings at all.
func (s ListingSelectors) Valid() bool {
	return s.Item != "" && s.Title != ""
}

// PlatformListingSelectors returns listing selectors for a known platform.
func PlatformListingSelectors(platform Platform) (ListingSelectors, bool) {
	switch platform {
	case PlatformGreenhouse:
		return ListingSelectors{
			Item:     "div.opening, tr.job-post",
			Title:    "a",
			Location: ".location, p.body__secondary",
		}, true
	case PlatformLever:
		return ListingSelectors{
			Item:     "div.posting",
			Title:    "[data-qa='posting-name'], h5",
			Link:     "a.posting-title",
			Location: ".sort-by-location, .location",
		}, true
	case PlatformWorkday:
		return ListingSelectors{
			Item:     "li.css-1q2dra3, [data-automation-id='compositeContainer']",
			Title:    "[data-automation-id='jobTitle']",
			Location: "[data-automation-id='locations']",
		}, true
	default:
		return ListingSelectors{}, false
	}
}

// PlatformContentSelectors returns selectors for a posting's detail page.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformGreenhouse:
		return []string{".job__description.body", ".job__description", "#content", ".job-post-container"}
	case PlatformLever:
		return []string{".posting-page", ".section-wrapper.page-full-width", ".posting-description", ".content"}
	case PlatformWorkday:
		return []string{"[data-automation-id='jobPostingDescription']", "[data-automation-id='jobDescription']", ".job-description"}
	default:
		return JobPostingSelectors()
	}
}

// PlatformNoiseSelectors returns elements to strip from a posting's detail page.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		"#application-form",
		".application-form",
		".apply-button-container",
		".eeo-statement",
		".voluntary-disclosure",
		".social-share",
		".cookie-consent",
	}
	switch platform {
	case PlatformGreenhouse:
		return append(common, ".application--wrapper", "#usa_self_id_section", ".post-apply")
	case PlatformLever:
		return append(common, ".apply-section", ".posting-apply")
	case PlatformWorkday:
		return append(common, "[data-automation-id='applyButton']")
	default:
		return common
	}
}
