package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionType(t *testing.T) {
	tests := []struct {
		method, url, want string
	}{
		{"POST", "/api/events", "CREATE_EVENT"},
		{"post", "http://api.local/api/events?draft=1", "CREATE_EVENT"},
		{"PATCH", "/api/events/42", "UPDATE_EVENT"},
		{"PUT", "/api/venues/7", "UPDATE_VENUE"},
		{"DELETE", "/api/services/3", "DELETE_SERVICE"},
		{"POST", "/api/messages", "SEND_MESSAGE"},
		{"DELETE", "/api/messages/9", "DELETE_MESSAGE"},
		{"PATCH", "/api/notifications/1", "UPDATE_NOTIFICATION"},
		{"POST", "/api/users", "CREATE_USER"},
		{"POST", "/api/payments", "POST_REQUEST"},
		{"PATCH", "/static/app.js", "PATCH_REQUEST"},
		{"", "/api/unknown", "POST_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ActionType(tt.method, tt.url))
		})
	}
}

func TestResource(t *testing.T) {
	assert.Equal(t, "/api/events", Resource("/api/events/42"))
	assert.Equal(t, "/api/messages", Resource("http://api.local/api/messages?x=1"))
	assert.Equal(t, "", Resource("/offline.html"))
}
