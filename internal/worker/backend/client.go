package backend

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"botarena/internal/coordinator/model"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/logger"
)

const (
	// A hash mismatch usually means an upload is in flight, not a
	// permanent fault, so fetching retries generously before giving up.
	fetchAttempts = 100

	uploadAttempts       = 10
	uploadBackoffInitial = time.Second
	uploadBackoffCeiling = 32 * time.Second
)

// Task is the tagged task handed to the worker by the coordinator.
type Task interface {
	isTask()
}

// CompileTask asks the worker to build one uploaded bot.
type CompileTask struct {
	UserID int64
	BotID  int64
}

// GameTask asks the worker to run one ranked match.
type GameTask struct {
	TaskID                int64
	Users                 []model.Opponent
	EnvironmentParameters map[string]interface{}
}

// OndemandTask asks the worker to run one interactive session match.
type OndemandTask struct {
	UserID                int64
	Users                 []model.Opponent
	EnvironmentParameters map[string]interface{}
	Snapshot              json.RawMessage
	Metadata              json.RawMessage
}

func (CompileTask) isTask()  {}
func (GameTask) isTask()     {}
func (OndemandTask) isTask() {}

// Client talks to the coordinator on behalf of one worker.
type Client struct {
	baseURL      string
	capabilities []string
	httpClient   *http.Client
	sleep        func(context.Context, time.Duration)
}

// NewClient creates a coordinator client with the worker's capability tags.
func NewClient(baseURL string, capabilities []string) *Client {
	return &Client{
		baseURL:      baseURL,
		capabilities: capabilities,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		sleep:        sleepContext,
	}
}

// GetTask polls the task endpoint. Returns nil when no task is available.
func (c *Client) GetTask(ctx context.Context) (Task, error) {
	query := url.Values{}
	for _, capability := range c.capabilities {
		query.Add("capability", capability)
	}
	body, _, err := c.get(ctx, "/task", query)
	if err != nil {
		return nil, err
	}

	var envelope model.TaskEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "decode task envelope failed")
	}
	switch envelope.Type {
	case model.TaskTypeNone, "":
		return nil, nil
	case model.TaskTypeCompile:
		return CompileTask{UserID: envelope.User, BotID: envelope.Bot}, nil
	case model.TaskTypeGame:
		return GameTask{
			TaskID:                envelope.TaskID,
			Users:                 envelope.Users,
			EnvironmentParameters: envelope.EnvironmentParameters,
		}, nil
	case model.TaskTypeOndemand:
		return OndemandTask{
			UserID:                envelope.User,
			Users:                 envelope.Users,
			EnvironmentParameters: envelope.EnvironmentParameters,
			Snapshot:              envelope.Snapshot,
			Metadata:              envelope.Metadata,
		}, nil
	default:
		return nil, appErr.Newf(appErr.InvalidFormat, "unknown task type %q", envelope.Type)
	}
}

// BotHash queries the stored archive's hex MD5.
func (c *Client) BotHash(ctx context.Context, userID, botID int64, compiled bool) (string, error) {
	body, _, err := c.get(ctx, "/botHash", botQuery(userID, botID, compiled))
	if err != nil {
		return "", err
	}
	var payload struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidFormat, "decode bot hash failed")
	}
	return payload.Hash, nil
}

// FetchBot downloads the bot archive and verifies its content against the
// coordinator's hash. Retries a bounded number of times, then fails the
// enclosing task attempt for good.
func (c *Client) FetchBot(ctx context.Context, userID, botID int64, compiled bool) ([]byte, error) {
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		expected, err := c.BotHash(ctx, userID, botID, compiled)
		if err != nil {
			logger.Warn(ctx, "bot hash query failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		body, header, err := c.get(ctx, "/botFile", botQuery(userID, botID, compiled))
		if err != nil {
			logger.Warn(ctx, "bot download failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		local := md5Hex(body)
		if local == expected {
			if reported := header.Get("X-Hash"); reported != "" && reported != local {
				logger.Warn(ctx, "transfer header hash disagrees with content",
					zap.String("header", reported), zap.String("content", local))
				continue
			}
			return body, nil
		}
		logger.Warn(ctx, "bot archive hash mismatch",
			zap.Int("attempt", attempt),
			zap.String("expected", expected),
			zap.String("got", local))
	}
	return nil, appErr.Newf(appErr.HashMismatch, "bot %d/%d integrity not established after %d attempts", userID, botID, fetchAttempts)
}

// UploadBot posts a compiled archive and re-verifies the stored hash,
// backing off between attempts.
func (c *Client) UploadBot(ctx context.Context, userID, botID int64, data []byte) error {
	local := md5Hex(data)
	backoff := uploadBackoffInitial

	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.postBotFile(ctx, userID, botID, data)
		if err == nil {
			stored, hashErr := c.BotHash(ctx, userID, botID, true)
			if hashErr == nil && stored == local {
				return nil
			}
			logger.Warn(ctx, "uploaded archive hash mismatch",
				zap.Int("attempt", attempt),
				zap.String("expected", local),
				zap.String("stored", stored),
				zap.Error(hashErr))
		} else {
			logger.Warn(ctx, "bot upload failed",
				zap.Int("attempt", attempt), zap.Error(err))
		}
		c.sleep(ctx, backoff)
		backoff *= 2
		if backoff > uploadBackoffCeiling {
			backoff = uploadBackoffCeiling
		}
	}
	return appErr.Newf(appErr.UploadFailed, "bot %d/%d upload not verified after %d attempts", userID, botID, uploadAttempts)
}

// PostCompileResult reports a ranked compile outcome.
func (c *Client) PostCompileResult(ctx context.Context, userID, botID int64, didCompile bool, language, diagnostics string) error {
	fields := map[string]string{
		"user_id":     strconv.FormatInt(userID, 10),
		"bot_id":      strconv.FormatInt(botID, 10),
		"did_compile": boolField(didCompile),
		"language":    language,
		"errors":      diagnostics,
	}
	return c.postMultipart(ctx, "/compile", fields, nil)
}

// PostGameResult reports a ranked match result with its replay and logs.
func (c *Client) PostGameResult(ctx context.Context, users []model.ParticipantResult, output *model.GameOutput, replay []byte, logs map[string][]byte) error {
	usersJSON, err := json.Marshal(users)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode users failed")
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode game output failed")
	}
	fields := map[string]string{
		"users":       string(usersJSON),
		"game_output": string(outputJSON),
	}
	files := map[string][]byte{}
	if len(replay) > 0 && output.Replay != "" {
		files[output.Replay] = replay
	}
	for name, content := range logs {
		files[name] = content
	}
	return c.postMultipart(ctx, "/game", fields, files)
}

// PostOndemandResult finalizes an interactive session match.
func (c *Client) PostOndemandResult(ctx context.Context, userID int64, output *model.GameOutput, replay []byte, logs map[string][]byte, snapshot json.RawMessage, objective *model.Objective) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode game output failed")
	}
	fields := map[string]string{
		"user_id":     strconv.FormatInt(userID, 10),
		"game_output": string(outputJSON),
	}
	if len(snapshot) > 0 {
		fields["snapshot"] = string(snapshot)
	}
	if objective != nil {
		objectiveJSON, err := json.Marshal(objective)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "encode objective failed")
		}
		fields["objective"] = string(objectiveJSON)
	}
	files := map[string][]byte{}
	if len(replay) > 0 && output.Replay != "" {
		files[output.Replay] = replay
	}
	for name, content := range logs {
		files[name] = content
	}
	return c.postMultipart(ctx, "/ondemand_result", fields, files)
}

// PostOndemandError reports a pre-match compile failure for a session.
func (c *Client) PostOndemandError(ctx context.Context, userID int64, diagnostics string) error {
	fields := map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"errors":  diagnostics,
	}
	return c.postMultipart(ctx, "/ondemand_compile", fields, nil)
}

func (c *Client) postBotFile(ctx context.Context, userID, botID int64, data []byte) error {
	fields := map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"bot_id":  strconv.FormatInt(botID, 10),
	}
	return c.postMultipart(ctx, "/botFile", fields, map[string][]byte{"bot.zip": data})
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, http.Header, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.InternalServerError, "build request failed")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "coordinator request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "read response failed")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, appErr.Newf(appErr.ServiceUnavailable, "coordinator returned %d for %s", resp.StatusCode, path)
	}
	return body, resp.Header, nil
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, files map[string][]byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "write form field failed")
		}
	}
	for name, content := range files {
		part, err := writer.CreateFormFile(name, name)
		if err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "write form file failed")
		}
		if _, err := part.Write(content); err != nil {
			return appErr.Wrapf(err, appErr.InternalServerError, "write form file failed")
		}
	}
	if err := writer.Close(); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "finalize form failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "build request failed")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "coordinator request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return appErr.Newf(appErr.ServiceUnavailable, "coordinator returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// botQuery encodes an archive selector. On the wire compile=1 requests the
// uploaded source awaiting compilation; omitting it (sent as 0 here)
// requests the compiled bot.
func botQuery(userID, botID int64, compiled bool) url.Values {
	query := url.Values{}
	query.Set("user_id", strconv.FormatInt(userID, 10))
	query.Set("bot_id", strconv.FormatInt(botID, 10))
	query.Set("compile", boolField(!compiled))
	return query
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
