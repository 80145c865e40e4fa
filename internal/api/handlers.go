package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/birbparty/countly-nest/internal/cache"
	"github.com/birbparty/countly-nest/internal/database"
	"github.com/birbparty/countly-nest/internal/queue"
	"github.com/birbparty/countly-nest/internal/telemetry"
	"github.com/birbparty/countly-nest/sdk"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// RemoteConfigStore reads and writes per-app remote config
type RemoteConfigStore interface {
	Fetch(ctx context.Context, appKey string, keys, omit []string) (map[string]interface{}, error)
	Put(ctx context.Context, appKey string, values map[string]interface{}) error
	Delete(ctx context.Context, appKey string, keys ...string) error
}

// JournalCounter counts journaled commands
type JournalCounter interface {
	CountByTag(ctx context.Context, appKey string) ([]database.TagCount, error)
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators of Handler. Only Publisher is
// required.
type Dependencies struct {
	Publisher    queue.Publisher
	Mirror       *AsyncMirror
	RemoteConfig RemoteConfigStore
	Journal      JournalCounter
	Checks       map[string]HealthCheck
}

// Handler holds all dependencies for API handlers
type Handler struct {
	config    *Config
	deps      Dependencies
	startTime time.Time
}

// NewHandler creates a new handler instance
func NewHandler(config *Config, deps Dependencies) *Handler {
	return &Handler{
		config:    config,
		deps:      deps,
		startTime: time.Now(),
	}
}

// appSource binds a RemoteConfigStore to one app for sdk.NativeEngine
type appSource struct {
	store  RemoteConfigStore
	appKey string
}

func (s appSource) Fetch(ctx context.Context, keys, omit []string) (map[string]interface{}, error) {
	return s.store.Fetch(ctx, s.appKey, keys, omit)
}

// session is the Client bound to one request. accepted counts commands
// that reached the queue.
type session struct {
	appKey   string
	client   *sdk.Client
	accepted int
}

func (h *Handler) newSession(c *fiber.Ctx) *session {
	appKey := utils.CopyString(c.Params("app"))
	ctx := c.UserContext()
	meta := requestMetadata(c, h.config.EnrichUserAgent)

	sinks := []sdk.Queue{
		queue.NewCommandPublisher(h.deps.Publisher, appKey,
			queue.WithMetadata(meta),
			queue.WithParentContext(ctx),
			queue.WithPublishTimeout(time.Duration(h.config.RequestTimeout)*time.Second),
		),
	}
	if h.deps.Mirror != nil {
		sinks = append(sinks, h.deps.Mirror.For(ctx, appKey, meta))
	}
	fanout := queue.NewFanoutQueue(sinks...)

	s := &session{appKey: appKey}
	counted := sdk.QueueFunc(func(cmd sdk.Command) error {
		if err := fanout.Push(cmd); err != nil {
			return err
		}
		s.accepted++
		return nil
	})

	opts := []sdk.NativeOption{sdk.WithQueue(counted)}
	if h.deps.RemoteConfig != nil {
		opts = append(opts, sdk.WithRemoteConfigSource(appSource{store: h.deps.RemoteConfig, appKey: appKey}))
	}

	s.client = sdk.NewClient(sdk.NewNativeEngine(opts...), sdk.WithObserver(telemetry.NewCommandObserver(appKey)))
	return s
}

// accepted writes the success envelope for route
func (h *Handler) accepted(c *fiber.Ctx, route string, s *session) error {
	RecordCommandResult(route, "accepted")
	return c.Status(fiber.StatusAccepted).JSON(&CommandResponse{
		AppKey:   s.appKey,
		Accepted: s.accepted,
	})
}

// commandError maps an operation error to the error envelope. Values the
// SDK rejects are the caller's fault; anything else came from the queue.
func (h *Handler) commandError(c *fiber.Ctx, route string, err error) error {
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		RecordCommandResult(route, "rejected")
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponseWithDetails("Command rejected", ErrCodeInvalidCommand, err.Error()),
		)
	}

	RecordCommandResult(route, "failed")
	telemetry.WithContext(c.UserContext()).WithError(err).WithField("route", route).Error("Failed to queue command")
	return c.Status(fiber.StatusServiceUnavailable).JSON(
		NewErrorResponseWithDetails("Failed to queue command", ErrCodeQueueUnavailable, err.Error()),
	)
}

func badRequest(c *fiber.Ctx, route, message string, err error) error {
	RecordCommandResult(route, "invalid")
	details := ""
	if err != nil {
		details = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(
		NewErrorResponseWithDetails(message, ErrCodeInvalidRequest, details),
	)
}

// Session handles POST /v1/apps/:app/session
func (h *Handler) Session(c *fiber.Ctx) error {
	const route = "session"

	var req SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	s := h.newSession(c)
	var err error
	switch req.Action {
	case "track":
		err = s.client.EnableSessionTracking()
	case "begin":
		err = s.client.BeginSession(req.NoHeartbeat)
	case "extend":
		err = s.client.ExtendSession(req.Seconds)
	case "end":
		err = s.client.EndSession()
	case "end_after":
		err = s.client.EndSessionAfter(req.Seconds)
	default:
		return badRequest(c, route, fmt.Sprintf("Unknown session action %q", req.Action), nil)
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// Pageview handles POST /v1/apps/:app/pageview
func (h *Handler) Pageview(c *fiber.Ctx) error {
	const route = "pageview"

	var req PageviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, route, "Invalid request body", err)
		}
	}

	s := h.newSession(c)
	var err error
	switch {
	case req.Name != "" && req.Filter != nil:
		err = s.client.TrackPageviewWithNameAndFilter(req.Name, req.Filter)
	case req.Name != "":
		err = s.client.TrackPageviewWithName(req.Name)
	case req.Filter != nil:
		err = s.client.TrackPageviewWithFilter(req.Filter)
	default:
		err = s.client.TrackPageview()
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// Events handles POST /v1/apps/:app/events with one event or an array
func (h *Handler) Events(c *fiber.Ctx) error {
	const route = "events"

	var events []EventRequest
	body := strings.TrimSpace(string(c.Body()))
	if strings.HasPrefix(body, "[") {
		if err := c.BodyParser(&events); err != nil {
			return badRequest(c, route, "Invalid request body", err)
		}
	} else {
		var one EventRequest
		if err := c.BodyParser(&one); err != nil {
			return badRequest(c, route, "Invalid request body", err)
		}
		events = append(events, one)
	}
	if len(events) == 0 {
		return badRequest(c, route, "At least one event is required", nil)
	}

	// Validate everything first so a bad event queues nothing
	custom := make([]sdk.CustomEvent, len(events))
	for i := range events {
		ev, err := events[i].ToCustomEvent()
		if err != nil {
			return badRequest(c, route, fmt.Sprintf("Invalid event at index %d", i), err)
		}
		custom[i] = ev
	}

	s := h.newSession(c)
	for _, ev := range custom {
		if err := s.client.AddCustomEvent(ev); err != nil {
			return h.commandError(c, route, err)
		}
	}
	return h.accepted(c, route, s)
}

// StartEvent handles POST /v1/apps/:app/events/:name/start
func (h *Handler) StartEvent(c *fiber.Ctx) error {
	s := h.newSession(c)
	if err := s.client.StartEvent(utils.CopyString(c.Params("name"))); err != nil {
		return h.commandError(c, "timed_event", err)
	}
	return h.accepted(c, "timed_event", s)
}

// EndEvent handles POST /v1/apps/:app/events/:name/end
func (h *Handler) EndEvent(c *fiber.Ctx) error {
	s := h.newSession(c)
	if err := s.client.EndEvent(utils.CopyString(c.Params("name"))); err != nil {
		return h.commandError(c, "timed_event", err)
	}
	return h.accepted(c, "timed_event", s)
}

// UserDetails handles POST /v1/apps/:app/user/details
func (h *Handler) UserDetails(c *fiber.Ctx) error {
	const route = "user_details"

	var req UserDetailsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	s := h.newSession(c)
	if err := s.client.SetUserDetails(req.ToUserDetails()); err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// UserData handles POST /v1/apps/:app/user/data
func (h *Handler) UserData(c *fiber.Ctx) error {
	const route = "user_data"

	var req UserDataRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}
	if len(req.Ops) == 0 {
		return badRequest(c, route, "At least one op is required", nil)
	}

	apply := make([]func(*sdk.Client) error, len(req.Ops))
	for i, op := range req.Ops {
		fn, err := userDataOp(op)
		if err != nil {
			return badRequest(c, route, fmt.Sprintf("Invalid op at index %d", i), err)
		}
		apply[i] = fn
	}

	s := h.newSession(c)
	for _, fn := range apply {
		if err := fn(s.client); err != nil {
			return h.commandError(c, route, err)
		}
	}
	if req.Save == nil || *req.Save {
		if err := s.client.UserDataSave(); err != nil {
			return h.commandError(c, route, err)
		}
	}
	return h.accepted(c, route, s)
}

// userDataOp resolves op to the Client call it stands for
func userDataOp(op UserDataOp) (func(*sdk.Client) error, error) {
	if op.Key == "" {
		return nil, errors.New("key is required")
	}

	withValue := func(call func(*sdk.Client, string, sdk.Value) error) (func(*sdk.Client) error, error) {
		v, err := toValue(op.Op, op.Key, op.Value)
		if err != nil {
			return nil, err
		}
		return func(client *sdk.Client) error { return call(client, op.Key, v) }, nil
	}
	withAmount := func(call func(*sdk.Client, string, float64) error) (func(*sdk.Client) error, error) {
		return func(client *sdk.Client) error { return call(client, op.Key, op.Amount) }, nil
	}

	switch op.Op {
	case "set":
		return withValue((*sdk.Client).UserDataSet)
	case "set_once":
		return withValue((*sdk.Client).UserDataSetOnce)
	case "push":
		return withValue((*sdk.Client).UserDataPush)
	case "push_unique":
		return withValue((*sdk.Client).UserDataPushUnique)
	case "pull":
		return withValue((*sdk.Client).UserDataPull)
	case "unset":
		return func(client *sdk.Client) error { return client.UserDataUnset(op.Key) }, nil
	case "increment":
		return func(client *sdk.Client) error { return client.UserDataIncrement(op.Key) }, nil
	case "increment_by":
		return withAmount((*sdk.Client).UserDataIncrementBy)
	case "multiply":
		return withAmount((*sdk.Client).UserDataMultiply)
	case "max":
		return withAmount((*sdk.Client).UserDataMax)
	case "min":
		return withAmount((*sdk.Client).UserDataMin)
	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

// Consent handles POST /v1/apps/:app/consent. Feature consent lives in the
// visitor's engine and is never queued, so only opt in and opt out are
// relayed.
func (h *Handler) Consent(c *fiber.Ctx) error {
	const route = "consent"

	var req ConsentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	s := h.newSession(c)
	var err error
	switch req.Action {
	case "opt_in":
		err = s.client.OptIn()
	case "opt_out":
		err = s.client.OptOut()
	default:
		return badRequest(c, route, fmt.Sprintf("Unsupported consent action %q", req.Action), nil)
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// Tracking handles POST /v1/apps/:app/tracking
func (h *Handler) Tracking(c *fiber.Ctx) error {
	const route = "tracking"

	var req TrackingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	var parent *sdk.Element
	if req.ParentID != "" {
		parent = sdk.NewElement(req.ParentID)
	}

	s := h.newSession(c)
	var err error
	switch req.Kind {
	case "sessions":
		err = s.client.EnableSessionTracking()
	case "links":
		err = s.client.EnableLinkTracking(parent)
	case "forms":
		err = s.client.EnableFormSubmissionTracking(parent, req.IncludeHidden)
	case "form_data":
		err = s.client.EnableFormDataCollection(parent, req.StoreAsCustom)
	case "errors":
		err = s.client.EnableErrorTracking(req.Segments)
	default:
		return badRequest(c, route, fmt.Sprintf("Unknown tracking kind %q", req.Kind), nil)
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// LogError handles POST /v1/apps/:app/errors
func (h *Handler) LogError(c *fiber.Ctx) error {
	const route = "errors"

	var req ErrorReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}
	if req.Message == "" {
		return badRequest(c, route, "Error message is required", nil)
	}

	s := h.newSession(c)
	if err := s.client.LogError(errors.New(req.Message), req.Segments); err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// AddLog handles POST /v1/apps/:app/logs
func (h *Handler) AddLog(c *fiber.Ctx) error {
	const route = "logs"

	var req ErrorReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	s := h.newSession(c)
	if err := s.client.AddLog(req.Message); err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// Device handles POST /v1/apps/:app/device
func (h *Handler) Device(c *fiber.Ctx) error {
	const route = "device"

	var req DeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, route, "Invalid request body", err)
	}

	s := h.newSession(c)
	var err error
	switch req.Action {
	case "change_id":
		if req.DeviceID == "" {
			return badRequest(c, route, "device_id is required", nil)
		}
		err = s.client.ChangeDeviceID(req.DeviceID, req.Merge)
	case "offline":
		err = s.client.EnableOfflineMode()
	case "online":
		if req.DeviceID != "" {
			err = s.client.DisableOfflineModeWithDeviceID(req.DeviceID)
		} else {
			err = s.client.DisableOfflineMode()
		}
	default:
		return badRequest(c, route, fmt.Sprintf("Unknown device action %q", req.Action), nil)
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// Conversion handles POST /v1/apps/:app/conversions
func (h *Handler) Conversion(c *fiber.Ctx) error {
	const route = "conversion"

	var req ConversionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, route, "Invalid request body", err)
		}
	}

	s := h.newSession(c)
	var err error
	if req.CampaignID != "" {
		err = s.client.ReportConversionForCampaign(req.CampaignID)
	} else {
		err = s.client.ReportConversion()
	}
	if err != nil {
		return h.commandError(c, route, err)
	}
	return h.accepted(c, route, s)
}

// GetRemoteConfig handles GET /v1/apps/:app/remote-config?keys=a,b&omit=c
func (h *Handler) GetRemoteConfig(c *fiber.Ctx) error {
	if h.deps.RemoteConfig == nil {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Remote config is not enabled", ErrCodeNotFound),
		)
	}

	keys := splitQuery(c.Query("keys"))
	omit := splitQuery(c.Query("omit"))

	s := h.newSession(c)
	var (
		values   map[string]interface{}
		fetchErr error
	)
	cb := func(err error, config map[string]interface{}) {
		fetchErr = err
		values = config
	}

	var err error
	switch {
	case len(keys) > 0:
		err = s.client.FetchRemoteConfigKeys(keys, cb)
	case len(omit) > 0:
		err = s.client.FetchRemoteConfigExcept(omit, cb)
	default:
		err = s.client.FetchRemoteConfig(cb)
	}
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		telemetry.WithContext(c.UserContext()).WithError(err).Error("Remote config fetch failed")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to fetch remote config", ErrCodeInternalError),
		)
	}

	return c.JSON(&RemoteConfigResponse{AppKey: s.appKey, Values: values})
}

// PutRemoteConfig handles PUT /v1/apps/:app/remote-config
func (h *Handler) PutRemoteConfig(c *fiber.Ctx) error {
	if h.deps.RemoteConfig == nil {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Remote config is not enabled", ErrCodeNotFound),
		)
	}

	var values map[string]interface{}
	if err := c.BodyParser(&values); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponseWithDetails("Invalid request body", ErrCodeInvalidRequest, err.Error()),
		)
	}
	if len(values) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse("At least one value is required", ErrCodeInvalidRequest),
		)
	}

	appKey := c.Params("app")
	if err := h.deps.RemoteConfig.Put(c.UserContext(), appKey, values); err != nil {
		telemetry.WithContext(c.UserContext()).WithError(err).Error("Failed to store remote config")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to store remote config", ErrCodeInternalError),
		)
	}

	return c.JSON(&RemoteConfigResponse{AppKey: appKey, Values: values})
}

// DeleteRemoteConfig handles DELETE /v1/apps/:app/remote-config?keys=a,b.
// Without keys the whole config of the app is removed.
func (h *Handler) DeleteRemoteConfig(c *fiber.Ctx) error {
	if h.deps.RemoteConfig == nil {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Remote config is not enabled", ErrCodeNotFound),
		)
	}

	err := h.deps.RemoteConfig.Delete(c.UserContext(), c.Params("app"), splitQuery(c.Query("keys"))...)
	switch {
	case errors.Is(err, cache.ErrKeyNotFound):
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Remote config not found", ErrCodeNotFound),
		)
	case err != nil:
		telemetry.WithContext(c.UserContext()).WithError(err).Error("Failed to delete remote config")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to delete remote config", ErrCodeInternalError),
		)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// JournalCounts handles GET /v1/apps/:app/journal/counts
func (h *Handler) JournalCounts(c *fiber.Ctx) error {
	if h.deps.Journal == nil {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Journal is not enabled", ErrCodeNotFound),
		)
	}

	appKey := c.Params("app")
	counts, err := h.deps.Journal.CountByTag(c.UserContext(), appKey)
	if err != nil {
		telemetry.WithContext(c.UserContext()).WithError(err).Error("Failed to count journal")
		return c.Status(fiber.StatusInternalServerError).JSON(
			NewErrorResponse("Failed to count journal", ErrCodeInternalError),
		)
	}

	resp := &JournalCountsResponse{AppKey: appKey, Counts: make(map[string]int, len(counts))}
	for _, tc := range counts {
		resp.Counts[tc.Tag] += int(tc.Count)
		resp.Total += int(tc.Count)
	}
	return c.JSON(resp)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.deps.Checks))
	for name := range h.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	failed := 0
	for _, name := range names {
		if err := h.deps.Checks[name](ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			failed++
			continue
		}
		checks[name] = "healthy"
	}

	if h.deps.Mirror != nil {
		stats := h.deps.Mirror.Stats()
		checks["mirror"] = fmt.Sprintf("healthy (%d/%d queued)", stats.QueueDepth, stats.QueueCapacity)
	}

	status := "healthy"
	code := fiber.StatusOK
	switch {
	case failed == 0:
		UpdateHealthMetric(1)
	case failed < len(names):
		status = "degraded"
		code = fiber.StatusServiceUnavailable
		UpdateHealthMetric(0.5)
	default:
		status = "unhealthy"
		code = fiber.StatusServiceUnavailable
		UpdateHealthMetric(0)
	}

	return c.Status(code).JSON(&HealthResponse{
		Status:  status,
		Service: h.config.ServiceName,
		Version: "1.0.0",
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

func splitQuery(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
