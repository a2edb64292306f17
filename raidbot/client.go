package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sjkd23/console-sub003/internal/platform/auth"
)

// apiError is a non-2xx answer from runs-api.
type apiError struct {
	Status int
	Code   string
	Holder string
	Detail struct {
		Missing *struct {
			Party    bool `json:"party"`
			Location bool `json:"location"`
		} `json:"missing,omitempty"`
		From    string `json:"from,omitempty"`
		To      string `json:"to,omitempty"`
		Message string `json:"message,omitempty"`
	}
	RequestID string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("runs-api %d: %s", e.Status, e.Code)
}

type runSummary struct {
	ID             int64  `json:"id"`
	GuildID        string `json:"guild_id"`
	DungeonLabel   string `json:"dungeon_label"`
	OrganizerID    string `json:"organizer_id"`
	OrganizerLabel string `json:"organizer_label"`
	Status         string `json:"status"`
	StatusLabel    string `json:"status_label"`
	KeyPops        int    `json:"key_pops"`
}

type accessResult struct {
	Allowed             bool       `json:"allowed"`
	IsOriginalOrganizer bool       `json:"is_original_organizer"`
	NeedsConfirmation   bool       `json:"needs_confirmation"`
	Message             string     `json:"message"`
	Run                 runSummary `json:"run"`
}

// runsClient calls runs-api on behalf of a Discord member. Every request
// carries the member's identity in signed internal headers.
type runsClient struct {
	base    *url.URL
	secret  string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func newRunsClient(baseURL, secret string, httpClient *http.Client, limiter *rate.Limiter) (*runsClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid runs-api url: %q", baseURL)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("internal auth secret is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &runsClient{base: base, secret: secret, http: httpClient, limiter: limiter, now: time.Now}, nil
}

func (c *runsClient) Transition(ctx context.Context, member auth.Identity, guildID string, runID int64, status string) (runSummary, error) {
	var out struct {
		OK  bool       `json:"ok"`
		Run runSummary `json:"run"`
	}
	err := c.do(ctx, member, http.MethodPost, runPath(guildID, runID, "transition"), map[string]string{"status": status}, &out)
	return out.Run, err
}

func (c *runsClient) CheckAccess(ctx context.Context, member auth.Identity, guildID string, runID int64) (accessResult, error) {
	var out accessResult
	err := c.do(ctx, member, http.MethodGet, runPath(guildID, runID, "access"), nil, &out)
	return out, err
}

func (c *runsClient) KeyPop(ctx context.Context, member auth.Identity, guildID string, runID int64) (runSummary, error) {
	var out runSummary
	err := c.do(ctx, member, http.MethodPost, runPath(guildID, runID, "key-pop"), map[string]int{"count": 1}, &out)
	return out, err
}

func runPath(guildID string, runID int64, action string) string {
	return "/guilds/" + url.PathEscape(guildID) + "/runs/" + strconv.FormatInt(runID, 10) + "/" + action
}

func (c *runsClient) do(ctx context.Context, member auth.Identity, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(blob)
	}
	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if err := auth.SignRequest(req, c.secret, member, c.now()); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode, RequestID: req.Header.Get("X-Request-Id")}
		var payload struct {
			Error     string          `json:"error"`
			Holder    string          `json:"holder"`
			Detail    json.RawMessage `json:"detail"`
			RequestID string          `json:"request_id"`
		}
		if err := json.Unmarshal(blob, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Holder = payload.Holder
			if len(payload.Detail) > 0 {
				_ = json.Unmarshal(payload.Detail, &apiErr.Detail)
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode runs-api response: %w", err)
	}
	return nil
}
