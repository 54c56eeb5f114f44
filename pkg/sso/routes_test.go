package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutes_IsProtected(t *testing.T) {
	routes := NewRoutes([]string{"/dashboard", "/profile/", "/", ""})

	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/dashboard", true},
		{"/dashboard/profile", true},
		{"/dashboards", false},
		{"/profile", true},
		{"/profile/edit", true},
		{"/login", false},
		{"/reset-password", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, routes.IsProtected(tt.path), tt.path)
	}
}

func TestRoutes_Replace(t *testing.T) {
	routes := NewRoutes([]string{"/dashboard"})
	routes.Replace([]string{"/billing"})

	assert.False(t, routes.IsProtected("/dashboard"))
	assert.True(t, routes.IsProtected("/billing/invoices"))
	assert.Equal(t, []string{"/billing"}, routes.Prefixes())
}
