package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// InstanceResponse — запись живости инстанса из API.
type InstanceResponse struct {
	InstanceID        string `json:"instance_id"`
	LastCheckinTime   string `json:"last_checkin_time"`
	CheckinInterval   string `json:"checkin_interval"`
	FailureDeadline   string `json:"failure_deadline"`
	Failed            bool   `json:"failed"`
	Self              bool   `json:"self"`
	RecovererID       string `json:"recoverer_id,omitempty"`
	RecoveryStartedAt string `json:"recovery_started_at,omitempty"`
}

// FiredTriggerResponse — эпизод срабатывания из API.
type FiredTriggerResponse struct {
	FireInstanceID      string `json:"fire_instance_id"`
	SchedulerInstanceID string `json:"scheduler_instance_id"`
	TriggerName         string `json:"trigger_name"`
	TriggerGroup        string `json:"trigger_group"`
	JobName             string `json:"job_name"`
	JobGroup            string `json:"job_group"`
	State               string `json:"state"`
	FireTimestamp       string `json:"fire_timestamp"`
	ScheduledTime       string `json:"scheduled_time,omitempty"`
	Priority            int    `json:"priority"`
	JobIsStateful       bool   `json:"job_is_stateful"`
	JobRequestsRecovery bool   `json:"job_requests_recovery"`
	TriggerIsVolatile   bool   `json:"trigger_is_volatile"`
}

// RecoveryResponse — итог цикла восстановления из API.
type RecoveryResponse struct {
	InstanceID  string   `json:"instance_id"`
	CheckinTime string   `json:"checkin_time"`
	Recovered   []string `json:"recovered"`
	Skipped     []string `json:"skipped,omitempty"`
	Refired     int      `json:"refired"`
	Released    int      `json:"released"`
	Deleted     int      `json:"deleted"`
}

// ListFiredOpts — параметры фильтрации эпизодов.
type ListFiredOpts struct {
	InstanceID string
	Job        string // group.name
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API узла jobstore.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Cluster ---

// ListInstances возвращает записи живости кластера.
func (c *Client) ListInstances() ([]InstanceResponse, error) {
	var instances []InstanceResponse
	err := c.list("/api/v1/cluster/instances", nil, &instances)
	return instances, err
}

// ListFiredTriggers возвращает эпизоды срабатывания.
// InstanceID важнее Job, если заданы оба.
func (c *Client) ListFiredTriggers(opts ListFiredOpts) ([]FiredTriggerResponse, error) {
	var fired []FiredTriggerResponse

	if opts.InstanceID != "" {
		err := c.list("/api/v1/cluster/instances/"+url.PathEscape(opts.InstanceID)+"/fired-triggers", nil, &fired)
		return fired, err
	}

	params := url.Values{}
	if opts.Job != "" {
		params.Set("job", opts.Job)
	}
	err := c.list("/api/v1/cluster/fired-triggers", params, &fired)
	return fired, err
}

// RunRecovery запускает цикл восстановления на узле.
func (c *Client) RunRecovery() (*RecoveryResponse, error) {
	var res RecoveryResponse
	err := c.post("/api/v1/cluster/recovery", nil, &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
