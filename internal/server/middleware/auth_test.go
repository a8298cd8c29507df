package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClaims struct {
	subject string
}

func (c stubClaims) GetSubject() (string, error) {
	return c.subject, nil
}

// stubValidator accepts tokens listed in subjects.
type stubValidator struct {
	subjects map[string]string
}

func (v stubValidator) ValidateToken(token string) (SubjectGetter, error) {
	subject, ok := v.subjects[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return stubClaims{subject: subject}, nil
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{subjects: map[string]string{"good": "ada", "blank": ""}}

	tests := []struct {
		name        string
		header      string
		query       string
		wantCode    int
		wantSubject string
	}{
		{"no credentials", "", "", http.StatusUnauthorized, ""},
		{"bearer", "Bearer good", "", http.StatusOK, "ada"},
		{"case-insensitive scheme", "BEARER good", "", http.StatusOK, "ada"},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized, ""},
		{"extra parts", "Bearer good extra", "", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer bad", "", http.StatusUnauthorized, ""},
		{"empty subject", "Bearer blank", "", http.StatusUnauthorized, ""},
		{"query token", "", "?access_token=good", http.StatusOK, "ada"},
		{"header wins over query", "Bearer bad", "?access_token=good", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSubject string
			handler := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject, err := GetSubject(r)
				require.NoError(t, err)
				gotSubject = subject
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/stats"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantSubject, gotSubject)
		})
	}
}

func TestGetSubject(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetSubject(req)
	assert.Error(t, err)

	req = req.WithContext(WithSubject(context.Background(), "ada"))
	subject, err := GetSubject(req)
	require.NoError(t, err)
	assert.Equal(t, "ada", subject)
}
