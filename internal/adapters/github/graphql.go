package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// graphQLClient posts queries to the GitHub GraphQL endpoint.
type graphQLClient struct {
	endpoint   string
	httpClient *http.Client
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// do executes query and decodes its data into out. Every failure is a
// *FetchError.
func (c *graphQLClient) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fetchErr(KindProtocol, "", fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fetchErr(KindProtocol, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fetchErr(KindTransient, "", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchErr(KindTransient, "", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, raw)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return fetchErr(KindProtocol, "", fmt.Errorf("parse response: %w", err))
	}
	if len(gqlResp.Errors) > 0 {
		return graphQLErrors(gqlResp.Errors)
	}
	if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
		return fetchErr(KindProtocol, "", errors.New("response has no data"))
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return fetchErr(KindProtocol, "", fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func statusError(code int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("status %d: %s", code, strings.TrimSpace(string(body)))
	switch {
	case code >= 500, code == http.StatusTooManyRequests:
		return fetchErr(KindTransient, "", err)
	case code == http.StatusForbidden && bytes.Contains(bytes.ToLower(body), []byte("rate limit")):
		return fetchErr(KindTransient, "", err)
	}
	return fetchErr(KindProtocol, "", err)
}

func graphQLErrors(errs []graphQLError) error {
	msgs := make([]string, 0, len(errs))
	kind := KindProtocol
	for _, e := range errs {
		msgs = append(msgs, e.Message)
		switch e.Type {
		case "NOT_FOUND":
			kind = KindNotFound
		case "RATE_LIMITED":
			if kind != KindNotFound {
				kind = KindTransient
			}
		}
	}
	return fetchErr(kind, "", fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; ")))
}
