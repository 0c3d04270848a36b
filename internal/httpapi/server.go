package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/service"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
	"github.com/BrandonDHaskell/Clavis/server/internal/gateway"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Dependencies struct {
	Logger  *zap.Logger
	Addr    string
	Manager *service.Manager
	Events  *EventsHub
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	manager    *service.Manager
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		manager: d.Manager,
	}

	mux.HandleFunc("GET /v1/locks", s.handleListLocks)
	mux.HandleFunc("GET /v1/locks/{lock}/users", s.handleListUsers)
	mux.HandleFunc("GET /v1/locks/{lock}/users/{slot}", s.handleGetUser)
	mux.HandleFunc("GET /v1/locks/{lock}/state", s.handleGetState)
	mux.HandleFunc("GET /v1/locks/{lock}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/locks/{lock}/export", s.handleExport)
	mux.HandleFunc("POST /v1/locks/{lock}/set_code", s.handleSetCode)
	mux.HandleFunc("POST /v1/locks/{lock}/clear_code", s.handleClearCode)
	mux.HandleFunc("POST /v1/locks/{lock}/set_schedule", s.handleSetSchedule)
	mux.HandleFunc("POST /v1/locks/{lock}/set_usage_limit", s.handleSetUsageLimit)
	mux.HandleFunc("POST /v1/locks/{lock}/reset_usage_count", s.handleResetUsageCount)
	mux.HandleFunc("POST /v1/locks/{lock}/enable_user", s.handleEnableUser)
	mux.HandleFunc("POST /v1/locks/{lock}/disable_user", s.handleDisableUser)
	mux.HandleFunc("POST /v1/locks/{lock}/set_user_status", s.handleSetUserStatus)
	mux.HandleFunc("POST /v1/locks/{lock}/push_code", s.handlePushCode)
	mux.HandleFunc("POST /v1/locks/{lock}/pull_codes", s.handlePullCodes)
	mux.HandleFunc("POST /v1/locks/{lock}/check_sync", s.handleCheckSync)
	mux.HandleFunc("POST /v1/locks/{lock}/clear_cache", s.handleClearCache)
	mux.HandleFunc("POST /v1/locks/{lock}/set_config", s.handleSetConfig)
	mux.HandleFunc("POST /v1/locks/{lock}/operate", s.handleOperate)
	if d.Events != nil {
		mux.HandleFunc("GET /v1/events", d.Events.handleEvents)
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// lock resolves the {lock} path segment, answering 404 itself when the ID
// is unknown.
func (s *Server) lock(w http.ResponseWriter, r *http.Request) (*service.Lock, bool) {
	id := r.PathValue("lock")
	lk, ok := s.manager.Lock(id)
	if !ok {
		writeError(w, http.StatusNotFound, "lock_not_found", fmt.Sprintf("no lock %q", id))
		return nil, false
	}
	return lk, true
}

// writeUser answers with the current record in slot.
func (s *Server) writeUser(w http.ResponseWriter, lk *service.Lock, slot int) {
	rec, ok := lk.Engine.User(slot)
	if !ok {
		writeError(w, http.StatusNotFound, "slot_not_found", fmt.Sprintf("no user in slot %d", slot))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// writeServiceError maps the engine's error taxonomy onto HTTP statuses
// with stable codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, "out_of_range", err.Error())
	case errors.Is(err, service.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
	case errors.Is(err, service.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, service.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
	case errors.Is(err, service.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
	case errors.Is(err, service.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, service.ErrLockNotFound):
		writeError(w, http.StatusNotFound, "lock_not_found", err.Error())
	case errors.Is(err, service.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_occupied", err.Error())
	case errors.Is(err, service.ErrVerificationFailed):
		writeError(w, http.StatusBadGateway, "verification_failed", err.Error())
	case errors.Is(err, service.ErrHardwareTimeout):
		writeError(w, http.StatusGatewayTimeout, "hardware_timeout", err.Error())
	case errors.Is(err, service.ErrHardware):
		writeError(w, http.StatusBadGateway, "hardware_error", err.Error())
	default:
		s.logger.Error("unexpected command failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

// writeGatewayError maps raw bridge errors from device commands that do not
// go through the engine.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	if errors.Is(err, gateway.ErrAckTimeout) {
		writeError(w, http.StatusGatewayTimeout, "hardware_timeout", err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, "hardware_error", err.Error())
}

// ── Read endpoints ──────────────────────────────────────────────────────────

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.manager.Locks()
	out := make([]lockSummary, 0, len(locks))
	for _, lk := range locks {
		out = append(out, lockSummaryFrom(lk))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lk.Engine.Users())
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "out_of_range", "slot must be a number")
		return
	}
	s.writeUser(w, lk, slot)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lk.Device.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "out_of_range", "limit must be a positive number")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	recs, err := lk.Engine.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", zap.String("lock", lk.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if recs == nil {
		recs = []store.AccessRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lk.Engine.Export())
}

// ── Slot commands ───────────────────────────────────────────────────────────

func (s *Server) handleSetCode(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req setCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	params := service.SetCodeParams{
		Slot:     req.Slot,
		Name:     req.Name,
		Code:     req.Code,
		CodeType: types.CodeType(req.CodeType),
		Override: req.Override,
	}
	if req.Status != nil {
		st := types.UserStatus(*req.Status)
		params.Status = &st
	}

	if err := lk.Engine.SetCode(r.Context(), params); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleClearCode(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req clearCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.ClearCode(r.Context(), req.Slot, !req.KeepLocal); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req setScheduleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	start, err := parseTimestamp(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schedule", "start must be RFC3339")
		return
	}
	end, err := parseTimestamp(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_schedule", "end must be RFC3339")
		return
	}

	if err := lk.Engine.SetSchedule(r.Context(), req.Slot, start, end); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleSetUsageLimit(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req setUsageLimitRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.SetUsageLimit(r.Context(), req.Slot, req.Limit); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleResetUsageCount(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.ResetUsageCount(r.Context(), req.Slot); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleEnableUser(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.EnableUser(r.Context(), req.Slot); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.DisableUser(r.Context(), req.Slot); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req setUserStatusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.SetUserStatus(r.Context(), req.Slot, types.UserStatus(req.Status)); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

// ── Hardware commands ───────────────────────────────────────────────────────

func (s *Server) handlePushCode(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := lk.Engine.PushCode(r.Context(), req.Slot); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeUser(w, lk, req.Slot)
}

func (s *Server) handlePullCodes(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	counters, err := lk.Engine.PullCodes(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (s *Server) handleCheckSync(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	rec, err := lk.Engine.CheckSync(r.Context(), req.Slot)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	if err := lk.Engine.ClearCache(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// ── Device commands ─────────────────────────────────────────────────────────

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req setConfigRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	type paramWrite struct {
		param int
		value int
	}
	var writes []paramWrite
	if req.Volume != nil {
		if *req.Volume < 1 || *req.Volume > 3 {
			writeError(w, http.StatusBadRequest, "out_of_range", "volume must be 1 (silent), 2 (low) or 3 (high)")
			return
		}
		writes = append(writes, paramWrite{gateway.ParamVolume, *req.Volume})
	}
	if req.AutoRelock != nil {
		v := 0
		if *req.AutoRelock {
			v = 255
		}
		writes = append(writes, paramWrite{gateway.ParamAutoRelock, v})
	}
	if req.ManualRelockTime != nil {
		if *req.ManualRelockTime < 7 || *req.ManualRelockTime > 60 {
			writeError(w, http.StatusBadRequest, "out_of_range", "manual_relock_time must be 7..60 seconds")
			return
		}
		writes = append(writes, paramWrite{gateway.ParamManualRelockTime, *req.ManualRelockTime})
	}
	if req.RemoteRelockTime != nil {
		if *req.RemoteRelockTime < 10 || *req.RemoteRelockTime > 90 {
			writeError(w, http.StatusBadRequest, "out_of_range", "remote_relock_time must be 10..90 seconds")
			return
		}
		writes = append(writes, paramWrite{gateway.ParamRemoteRelockTime, *req.RemoteRelockTime})
	}
	if len(writes) == 0 {
		writeError(w, http.StatusBadRequest, "bad_json", "no parameters given")
		return
	}

	for _, pw := range writes {
		if err := lk.Device.SetConfigParam(r.Context(), pw.param, pw.value); err != nil {
			s.writeGatewayError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleOperate(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.lock(w, r)
	if !ok {
		return
	}
	var req operateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if req.Locked == nil {
		writeError(w, http.StatusBadRequest, "bad_json", "locked is required")
		return
	}
	if err := lk.Device.SetLocked(r.Context(), *req.Locked); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
