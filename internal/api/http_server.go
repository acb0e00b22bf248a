package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtdesk/internal/config"
	"courtdesk/internal/metrics"
	"courtdesk/internal/models"
	"courtdesk/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const tenantHeader = "X-Tenant-ID"

// CourtLister lists the courts of a tenant.
type CourtLister interface {
	ListCourts(ctx context.Context, tenantID int64) ([]*models.Court, error)
}

// Services are the business components exposed over HTTP. Courts and Audit
// are optional.
type Services struct {
	Scheduler  *service.BookingScheduler
	Accounting *service.BookingAccounting
	Ledger     *service.PaymentLedger
	Pricer     *service.PriceResolver
	Audit      *service.AuditRecorder
	Courts     CourtLister
}

// HTTPServer exposes the booking API as JSON over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	server   *http.Server
	auth     *HTTPAuth
	validate *validator.Validate
	logger   *zerolog.Logger
}

// tenantHandler serves a request already scoped to a tenant.
type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID int64)

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		auth:     NewHTTPAuth(cfg),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   &l,
	}

	mux := http.NewServeMux()
	srv.handle(mux, "POST /api/v1/reservations", permWriteReservations, srv.handleCreateReservation)
	srv.handle(mux, "GET /api/v1/reservations/{id}", permReadReservations, srv.handleReservationDetails)
	srv.handle(mux, "POST /api/v1/reservations/{id}/cancel", permWriteReservations, srv.handleCancel)
	srv.handle(mux, "POST /api/v1/reservations/{id}/pay", permWriteReservations, srv.handlePay)
	srv.handle(mux, "POST /api/v1/reservations/{id}/players", permWriteReservations, srv.handleChargePlayer)
	srv.handle(mux, "PUT /api/v1/reservations/{id}/participants", permWriteReservations, srv.handleSetParticipants)
	srv.handle(mux, "POST /api/v1/reservations/{id}/items", permWriteReservations, srv.handleAddLineItem)
	srv.handle(mux, "DELETE /api/v1/reservations/{id}/items/{itemID}", permWriteReservations, srv.handleRemoveLineItem)
	srv.handle(mux, "POST /api/v1/reservations/{id}/reschedule", permWriteReservations, srv.handleReschedule)
	srv.handle(mux, "POST /api/v1/reservations/{id}/confirm", permWriteReservations, srv.handleConfirm)
	srv.handle(mux, "POST /api/v1/reservations/{id}/complete", permWriteReservations, srv.handleComplete)
	srv.handle(mux, "POST /api/v1/reservations/{id}/payment-link", permWriteReservations, srv.handlePaymentLink)
	srv.handle(mux, "POST /api/v1/reservations/{id}/no-show", permWriteReservations, srv.handleMarkNoShow)
	srv.handle(mux, "POST /api/v1/reservations/{id}/no-show/revert", permWriteReservations, srv.handleRevertNoShow)
	srv.handle(mux, "GET /api/v1/reservations/{id}/history", permReadReservations, srv.handleReservationHistory)
	srv.handle(mux, "GET /api/v1/courts", permReadReservations, srv.handleListCourts)
	srv.handle(mux, "GET /api/v1/price", permReadReservations, srv.handlePrice)
	srv.handle(mux, "POST /api/v1/waiting-list", permWriteReservations, srv.handleJoinWaitingList)
	srv.handle(mux, "POST /api/v1/register/open", permWriteRegister, srv.handleOpenRegister)
	srv.handle(mux, "POST /api/v1/register/{id}/close", permWriteRegister, srv.handleCloseRegister)
	srv.handle(mux, "POST /api/v1/register/movements", permWriteRegister, srv.handleAddMovement)
	srv.handle(mux, "POST /api/v1/kiosk/sales", permWriteRegister, srv.handleKioskSale)
	srv.handle(mux, "GET /api/v1/register", permReadRegister, srv.handleRegisterStatus)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(srv.logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
	}

	return srv
}

// Handler returns the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handle registers a tenant-scoped route guarded by perm.
func (s *HTTPServer) handle(mux *http.ServeMux, pattern, perm string, h tenantHandler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)

		tenantID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(tenantHeader)), 10, 64)
		if err != nil || tenantID <= 0 {
			writeError(w, http.StatusBadRequest, tenantHeader+" header is required")
			return
		}
		principal := PrincipalFrom(r.Context())
		if !principal.Can(perm) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}
		if !principal.CanAccessTenant(tenantID) {
			writeError(w, http.StatusForbidden, errTenantDenied.Error())
			return
		}

		if s.cfg.HTTP.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HTTP.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		h(w, r, tenantID)
	})
}

// decode reads a JSON body into dst and validates its tags.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be omitted. An empty
// body leaves dst at its zero value.
func (s *HTTPServer) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, true)
}

func (s *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

// writeServiceError maps business errors onto HTTP statuses. Infrastructure
// errors are logged and hidden behind a generic message.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code := http.StatusInternalServerError
	switch svcErr.Kind {
	case service.KindValidation:
		code = http.StatusBadRequest
	case service.KindConflict:
		code = http.StatusConflict
	case service.KindNotFound:
		code = http.StatusNotFound
	case service.KindRule:
		code = http.StatusUnprocessableEntity
	}
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]any{"success": false, "error": svcErr.Message, "code": svcErr.Code})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, statusCode int, fields map[string]any) {
	body := map[string]any{"success": true}
	maps.Copy(body, fields)
	writeJSON(w, statusCode, body)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{"success": false, "error": message})
}
