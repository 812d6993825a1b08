package assistant

import (
	"net/url"

	"github.com/ashureev/pal/internal/intent"
)

// External tells the client which app to open and where.
type External struct {
	Target string `json:"target"`
	Query  string `json:"query"`
	URL    string `json:"url"`
}

var externalHome = map[string]string{
	"youtube":   "https://www.youtube.com/",
	"maps":      "https://www.google.com/maps",
	"whatsapp":  "https://web.whatsapp.com/",
	"spotify":   "https://open.spotify.com/",
	"instagram": "https://www.instagram.com/",
}

func newExternal(o intent.OpenExternal) *External {
	return &External{Target: o.Target, Query: o.Query, URL: launchURL(o.Target, o.Query)}
}

// launchURL returns the web URL that opens target, searching for query
// when one is given.
func launchURL(target, query string) string {
	if query == "" {
		return externalHome[target]
	}
	switch target {
	case "youtube":
		return "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
	case "maps":
		return "https://www.google.com/maps/search/" + url.PathEscape(query)
	case "whatsapp":
		return "https://wa.me/?text=" + url.QueryEscape(query)
	case "spotify":
		return "https://open.spotify.com/search/" + url.PathEscape(query)
	case "instagram":
		return "https://www.instagram.com/explore/search/keyword/?q=" + url.QueryEscape(query)
	default:
		return ""
	}
}
