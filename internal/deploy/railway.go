package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MichaLL27/shipfix/internal/models"
	"github.com/MichaLL27/shipfix/internal/retry"
)

// RailwayClient upserts environment variables against a Railway service via
// a single GraphQL mutation. It is an env publisher only, not a deploy
// provider.
type RailwayClient struct {
	Token    string
	Endpoint string
	HTTP     *http.Client
	Retry    retry.Policy
}

// NewRailwayClient returns a client pointed at the hosted GraphQL endpoint.
func NewRailwayClient(token string) *RailwayClient {
	return &RailwayClient{
		Token:    token,
		Endpoint: "https://backboard.railway.app/graphql/v2",
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		Retry:    retry.DefaultHTTP,
	}
}

// Configured reports whether credentials are present.
func (c *RailwayClient) Configured() bool { return c != nil && c.Token != "" }

// Name identifies the publisher in env-sync reports.
func (c *RailwayClient) Name() string { return "railway" }

const upsertMutation = `mutation variableCollectionUpsert($input: VariableCollectionUpsertInput!) {
  variableCollectionUpsert(input: $input)
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// PublishEnvVars upserts the full variable set in one mutation.
func (c *RailwayClient) PublishEnvVars(ctx context.Context, project *models.Project, vars map[string]models.EnvVar) error {
	if project.RailwayServiceID == "" {
		return fmt.Errorf("project %s has no railway service yet", project.Name)
	}
	if len(vars) == 0 {
		return nil
	}

	variables := make(map[string]string, len(vars))
	for k, v := range vars {
		variables[k] = v.Value
	}

	body, err := json.Marshal(graphQLRequest{
		Query: upsertMutation,
		Variables: map[string]any{
			"input": map[string]any{
				"serviceId": project.RailwayServiceID,
				"variables": variables,
			},
		},
	})
	if err != nil {
		return err
	}

	return c.Retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("variable upsert: status %d", resp.StatusCode)
		}

		var out graphQLResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode graphql response: %w", err)
		}
		if len(out.Errors) > 0 {
			return fmt.Errorf("variable upsert: %s", out.Errors[0].Message)
		}
		return nil
	})
}
