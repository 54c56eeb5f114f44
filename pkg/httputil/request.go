package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParseForm reads a urlencoded or JSON body into a flat string map.
// Login forms post either shape depending on the client.
func ParseForm(r *http.Request) (map[string]string, error) {
	values := make(map[string]string)

	if r.Header.Get("Content-Type") == "application/json" {
		if err := ParseJSON(r, &values); err != nil {
			return nil, err
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	for key := range r.PostForm {
		values[key] = r.PostForm.Get(key)
	}
	return values, nil
}
