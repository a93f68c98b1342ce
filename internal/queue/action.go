package queue

import (
	"net/http"
	"net/url"
	"strings"
)

// MaxRetries bounds RetryCount; an action failing more often is dropped.
const MaxRetries = 3

// Action is one mutating request waiting for replay. The JSON form is what
// gets persisted in the offline-actions collection.
type Action struct {
	ID         int64             `json:"id,omitempty"`
	Type       string            `json:"type"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	RetryCount int               `json:"retryCount"`
}

// resources maps the first path segment after /api/ to the singular tag
// used in action types.
var resources = map[string]string{
	"events":        "EVENT",
	"services":      "SERVICE",
	"venues":        "VENUE",
	"users":         "USER",
	"notifications": "NOTIFICATION",
	"messages":      "MESSAGE",
}

// ActionType derives the domain tag for a mutation, for example
// POST /api/events -> CREATE_EVENT.
func ActionType(method, rawURL string) string {
	method = strings.ToUpper(method)
	res := resources[resourceSegment(rawURL)]

	if res == "MESSAGE" && method == http.MethodPost {
		return "SEND_MESSAGE"
	}
	if res != "" {
		switch method {
		case http.MethodPost:
			return "CREATE_" + res
		case http.MethodPut, http.MethodPatch:
			return "UPDATE_" + res
		case http.MethodDelete:
			return "DELETE_" + res
		}
	}
	if method == "" {
		method = http.MethodPost
	}
	return method + "_REQUEST"
}

// Resource returns the collection path an action touches, such as
// /api/events for PATCH /api/events/42. It is empty for URLs outside /api/.
func Resource(rawURL string) string {
	seg := resourceSegment(rawURL)
	if seg == "" {
		return ""
	}
	return "/api/" + seg
}

func resourceSegment(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	rest, ok := strings.CutPrefix(p, "/api/")
	if !ok {
		return ""
	}
	seg, _, _ := strings.Cut(rest, "/")
	return seg
}
