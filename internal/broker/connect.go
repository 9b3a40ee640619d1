package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ConnectorState is the REST status of one connector and its tasks.
type ConnectorState struct {
	Name  string      `json:"name"`
	State string      `json:"state"`
	Tasks []TaskState `json:"tasks"`
}

// TaskState is the status of one connector task.
type TaskState struct {
	ID       int    `json:"id"`
	State    string `json:"state"`
	WorkerID string `json:"worker_id"`
	Trace    string `json:"trace,omitempty"`
}

// Healthy reports whether the connector and every task are RUNNING.
func (s ConnectorState) Healthy() bool {
	if s.State != "RUNNING" {
		return false
	}
	for _, t := range s.Tasks {
		if t.State != "RUNNING" {
			return false
		}
	}
	return true
}

// Connect queries a Kafka Connect cluster's REST API for connector health.
type Connect struct {
	baseURL string
	client  *http.Client
}

// NewConnect creates a client for the Connect REST API at baseURL.
func NewConnect(baseURL string, timeout time.Duration) *Connect {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Connect{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Connectors lists the deployed connector names.
func (c *Connect) Connectors(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/connectors/", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Status fetches the state of one connector and its tasks.
func (c *Connect) Status(ctx context.Context, name string) (ConnectorState, error) {
	var body struct {
		Name      string `json:"name"`
		Connector struct {
			State string `json:"state"`
		} `json:"connector"`
		Tasks []struct {
			ID       int    `json:"id"`
			State    string `json:"state"`
			WorkerID string `json:"worker_id"`
			Trace    string `json:"trace"`
		} `json:"tasks"`
	}
	if err := c.get(ctx, "/connectors/"+name+"/status", &body); err != nil {
		return ConnectorState{}, err
	}

	state := ConnectorState{Name: body.Name, State: body.Connector.State}
	for _, t := range body.Tasks {
		state.Tasks = append(state.Tasks, TaskState{
			ID:       t.ID,
			State:    t.State,
			WorkerID: t.WorkerID,
			Trace:    t.Trace,
		})
	}
	return state, nil
}

// Health returns the status of every deployed connector.
func (c *Connect) Health(ctx context.Context) ([]ConnectorState, error) {
	names, err := c.Connectors(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]ConnectorState, 0, len(names))
	for _, name := range names {
		s, err := c.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

func (c *Connect) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrapf(err, "broker: build request %s", path)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "broker: connect GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.New(fmt.Sprintf("broker: connect returned status %d for %s", resp.StatusCode, path))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "broker: decode %s", path)
	}
	return nil
}
