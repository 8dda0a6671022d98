package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/platform/logger"
)

// dialect captures the differences between createTask-style providers.
type dialect struct {
	name          string
	baseURL       string
	turnstileType string
}

var (
	twoCaptchaDialect = dialect{
		name:          "2captcha",
		baseURL:       "https://api.2captcha.com",
		turnstileType: "TurnstileTaskProxyless",
	}
	capSolverDialect = dialect{
		name:          "capsolver",
		baseURL:       "https://api.capsolver.com",
		turnstileType: "AntiTurnstileTaskProxyLess",
	}
)

// TaskSolver talks to createTask / getTaskResult JSON APIs.
type TaskSolver struct {
	dialect      dialect
	client       *http.Client
	apiKey       string
	pollInterval time.Duration
	log          *logger.ClassLogger
}

func NewTwoCaptcha(apiKey string, client *http.Client, log *logger.ClassLogger) *TaskSolver {
	return newTaskSolver(twoCaptchaDialect, apiKey, client, log)
}

func NewCapSolver(apiKey string, client *http.Client, log *logger.ClassLogger) *TaskSolver {
	return newTaskSolver(capSolverDialect, apiKey, client, log)
}

func newTaskSolver(d dialect, apiKey string, client *http.Client, log *logger.ClassLogger) *TaskSolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TaskSolver{
		dialect:      d,
		client:       client,
		apiKey:       strings.TrimSpace(apiKey),
		pollInterval: defaultPollInterval,
		log:          log,
	}
}

// WithBaseURL points the solver at another host, e.g. a test server.
func (t *TaskSolver) WithBaseURL(baseURL string) *TaskSolver {
	t.dialect.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

func (t *TaskSolver) WithPollInterval(d time.Duration) *TaskSolver {
	t.pollInterval = d
	return t
}

type createTaskRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      turnstileTask `json:"task"`
}

type turnstileTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type taskID string

// UnmarshalJSON accepts numeric (2Captcha) and string (CapSolver) ids.
func (id *taskID) UnmarshalJSON(b []byte) error {
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*id = taskID(num.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*id = taskID(s)
	return nil
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           taskID `json:"taskId"`
}

type resultRequest struct {
	ClientKey string          `json:"clientKey"`
	TaskID    json.RawMessage `json:"taskId"`
}

type resultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

func (t *TaskSolver) SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("%s api key not provided", t.dialect.name)
	}
	if strings.TrimSpace(siteKey) == "" {
		return "", fmt.Errorf("%s site key required", t.dialect.name)
	}
	if strings.TrimSpace(pageURL) == "" {
		return "", fmt.Errorf("%s page url required", t.dialect.name)
	}

	var created createTaskResponse
	if err := t.postJSON(ctx, "/createTask", createTaskRequest{
		ClientKey: t.apiKey,
		Task: turnstileTask{
			Type:       t.dialect.turnstileType,
			WebsiteURL: pageURL,
			WebsiteKey: siteKey,
		},
	}, &created); err != nil {
		return "", err
	}
	if err := t.checkError(created.ErrorID, created.ErrorCode, created.ErrorDescription, "createTask"); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(created.TaskID)) == "" {
		return "", fmt.Errorf("%s returned empty task id", t.dialect.name)
	}

	rawID := t.encodeTaskID(created.TaskID)
	for {
		if err := sleepCtx(ctx, t.pollInterval); err != nil {
			return "", err
		}

		var result resultResponse
		if err := t.postJSON(ctx, "/getTaskResult", resultRequest{ClientKey: t.apiKey, TaskID: rawID}, &result); err != nil {
			return "", err
		}
		if err := t.checkError(result.ErrorID, result.ErrorCode, result.ErrorDescription, "getTaskResult"); err != nil {
			return "", err
		}

		switch strings.ToLower(strings.TrimSpace(result.Status)) {
		case "processing", "queued", "idle":
			continue
		case "ready", "completed":
			if strings.TrimSpace(result.Solution.Token) == "" {
				return "", fmt.Errorf("%s returned empty token", t.dialect.name)
			}
			if t.log != nil {
				t.log.JustLog(fmt.Sprintf("%s task %s solved", t.dialect.name, created.TaskID))
			}
			return result.Solution.Token, nil
		default:
			return "", fmt.Errorf("unexpected %s status: %s", t.dialect.name, result.Status)
		}
	}
}

// encodeTaskID echoes the id back in the same JSON type the provider used.
func (t *TaskSolver) encodeTaskID(id taskID) json.RawMessage {
	if t.dialect.name == twoCaptchaDialect.name {
		if _, err := json.Number(id).Int64(); err == nil {
			return json.RawMessage(id)
		}
	}
	encoded, _ := json.Marshal(string(id))
	return encoded
}

func (t *TaskSolver) checkError(errorID int, code, description, op string) error {
	if errorID == 0 && code == "" {
		return nil
	}
	if strings.EqualFold(code, ErrCodeZeroBalance) {
		return ErrZeroBalance
	}
	if description != "" {
		return fmt.Errorf("%s %s error: %s - %s", t.dialect.name, op, code, description)
	}
	return fmt.Errorf("%s %s error: %s", t.dialect.name, op, code)
}

func (t *TaskSolver) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s encode error: %w", t.dialect.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.dialect.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s request build error: %w", t.dialect.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s http error: %w", t.dialect.name, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s read error: %w", t.dialect.name, err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("%s status %s body=%s", t.dialect.name, res.Status, strings.TrimSpace(string(resBody)))
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("%s decode error: %w", t.dialect.name, err)
	}
	return nil
}
